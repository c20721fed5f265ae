package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gpuwatch/internal/availability"
	"gpuwatch/internal/metrics"
	"gpuwatch/internal/notifier"
	"gpuwatch/internal/task/scheduler"
	"gpuwatch/internal/telemetry"
	logx "gpuwatch/pkg/logx"
)

// HeartbeatLayout is the heartbeat body format (YYYY-MM-DD, HH:MM:SS).
const HeartbeatLayout = "2006-01-02, 15:04:05"

// Messages are the recipient-facing texts.
type Messages struct {
	Available      string
	Occupied       string
	HeartbeatTitle string
}

func DefaultMessages() Messages {
	return Messages{Available: "GPU available", Occupied: "GPU occupied", HeartbeatTitle: "current time"}
}

// Schedules are the trigger specs for the built-in jobs (see scheduler.ParseSchedule).
type Schedules struct {
	Poll      string
	Reset     string
	Heartbeat string
}

func DefaultSchedules() Schedules {
	return Schedules{Poll: "1m", Reset: "40m", Heartbeat: "0 10-17/2 * * *"}
}

type Config struct {
	SendLimit       int
	NotifyOnStartup bool
	Policy          availability.Policy
	Messages        Messages
	Schedules       Schedules
	Location        *time.Location // heartbeat clock; nil means Local
}

// Sender fans a notification out. *notifier.Dispatcher implements it.
type Sender interface {
	SendToAll(ctx context.Context, n notifier.Notification) []notifier.Outcome
}

// Status is a point-in-time view for operators.
type Status struct {
	State     State               `json:"state"`
	LastPoll  time.Time           `json:"last_poll,omitempty"`
	LastError string              `json:"last_error,omitempty"`
	Occupied  int                 `json:"occupied"`
	Readings  []telemetry.Reading `json:"readings"`
}

// Monitor wires telemetry, the availability policy, the gate and the sender
// into the three scheduled jobs.
type Monitor struct {
	log      logx.Logger
	cfg      Config
	provider telemetry.Provider
	sender   Sender
	gate     *Gate
	metrics  *metrics.Metrics

	title func() string
	now   func() time.Time

	mu       sync.Mutex
	lastPoll time.Time
	lastErr  string
	occupied int
	readings []telemetry.Reading
}

type Option func(*Monitor)

// WithTitle sets the title decorator for availability notifications.
func WithTitle(fn func() string) Option { return func(m *Monitor) { m.title = fn } }

// WithClock overrides time.Now (tests).
func WithClock(fn func() time.Time) Option { return func(m *Monitor) { m.now = fn } }

func WithMetrics(mx *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mx } }

func New(cfg Config, provider telemetry.Provider, sender Sender, log logx.Logger, opts ...Option) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Policy == (availability.Policy{}) {
		cfg.Policy = availability.DefaultPolicy()
	}
	def := DefaultMessages()
	if strings.TrimSpace(cfg.Messages.Available) == "" {
		cfg.Messages.Available = def.Available
	}
	if strings.TrimSpace(cfg.Messages.Occupied) == "" {
		cfg.Messages.Occupied = def.Occupied
	}
	if strings.TrimSpace(cfg.Messages.HeartbeatTitle) == "" {
		cfg.Messages.HeartbeatTitle = def.HeartbeatTitle
	}
	defSched := DefaultSchedules()
	if cfg.Schedules.Poll == "" {
		cfg.Schedules.Poll = defSched.Poll
	}
	if cfg.Schedules.Reset == "" {
		cfg.Schedules.Reset = defSched.Reset
	}
	if cfg.Schedules.Heartbeat == "" {
		cfg.Schedules.Heartbeat = defSched.Heartbeat
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	m := &Monitor{
		log:      log,
		cfg:      cfg,
		provider: provider,
		sender:   sender,
		gate:     NewGate(cfg.SendLimit, cfg.NotifyOnStartup),
		title:    func() string { return "gpuwatch" },
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Gate exposes the notification gate (status, tests).
func (m *Monitor) Gate() *Gate { return m.gate }

// Poll reads telemetry, evaluates it, runs the gate and dispatches on a
// qualifying transition. A telemetry failure abandons the cycle untouched.
func (m *Monitor) Poll(ctx context.Context) error {
	readings, err := telemetry.ReadAll(ctx, m.provider)
	if err != nil {
		m.metrics.PollFailed()
		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("poll: %w", err)
	}

	policy := m.cfg.Policy
	for _, r := range readings {
		m.log.Debug("device reading",
			logx.Int("gpu", r.Index),
			logx.Int("procs", r.ProcessCount),
			logx.Float64("mem_ratio", r.MemoryUsedRatio),
			logx.Float64("util", r.UtilizationPercent),
			logx.Bool("occupied", policy.Occupied(r)),
		)
	}
	occupied := policy.CountOccupied(readings)
	signal := policy.Evaluate(readings)

	d := m.gate.OnPoll(signal)
	st := m.gate.Snapshot()

	m.mu.Lock()
	m.lastPoll = m.now()
	m.lastErr = ""
	m.occupied = occupied
	m.readings = readings
	m.mu.Unlock()
	m.metrics.PollOK(int(signal), len(readings), occupied, st.SentCount)

	m.log.Info("gpu state",
		logx.String("signal", signal.String()),
		logx.String("previous", d.Previous.String()),
		logx.Int("occupied", occupied),
		logx.Int("devices", len(readings)),
	)

	if d.Intent == IntentNone {
		return nil
	}
	m.metrics.Transition(d.Intent.String(), d.Suppressed)
	if d.Suppressed {
		m.log.Info("notification suppressed by rate limit",
			logx.String("intent", d.Intent.String()),
			logx.Int("sent", st.SentCount),
			logx.Int("limit", st.SentLimit),
		)
		return nil
	}

	body := m.cfg.Messages.Available
	if d.Intent == BecameOccupied {
		body = m.cfg.Messages.Occupied
	}
	m.dispatch(ctx, m.title(), body)
	return nil
}

// ResetLimit opens a new rate-limit window.
func (m *Monitor) ResetLimit(_ context.Context) error {
	prev := m.gate.Reset()
	m.metrics.WindowReset()
	m.log.Debug("send counter reset", logx.Int("previous", prev))
	return nil
}

// Heartbeat sends the current local time regardless of state. It does not
// count against the send limit.
func (m *Monitor) Heartbeat(ctx context.Context) error {
	body := m.now().In(m.cfg.Location).Format(HeartbeatLayout)
	m.metrics.Heartbeat()
	m.dispatch(ctx, m.cfg.Messages.HeartbeatTitle, body)
	return nil
}

func (m *Monitor) dispatch(ctx context.Context, title, body string) {
	if m.sender == nil {
		return
	}
	n := notifier.NewNotification(title, body)
	failed := 0
	for _, o := range m.sender.SendToAll(ctx, n) {
		if !o.OK() {
			failed++
		}
	}
	if failed > 0 {
		m.log.Warn("notification not delivered to every recipient", logx.String("id", n.ID), logx.Int("failed", failed))
	}
}

// Jobs returns the built-in jobs as scheduler data.
func (m *Monitor) Jobs() []scheduler.Job {
	s := m.cfg.Schedules
	return []scheduler.Job{
		{Name: "poll", Schedule: s.Poll, Run: m.Poll},
		{Name: "reset_limit", Schedule: s.Reset, Run: m.ResetLimit},
		{Name: "heartbeat", Schedule: s.Heartbeat, Run: m.Heartbeat},
	}
}

func (m *Monitor) Status() Status {
	st := m.gate.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:     st,
		LastPoll:  m.lastPoll,
		LastError: m.lastErr,
		Occupied:  m.occupied,
		Readings:  append([]telemetry.Reading(nil), m.readings...),
	}
}
