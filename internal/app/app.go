package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"gpuwatch/internal/config"
	"gpuwatch/internal/httpapi"
	"gpuwatch/internal/metrics"
	"gpuwatch/internal/monitor"
	"gpuwatch/internal/notifier"
	"gpuwatch/internal/runtime/supervisor"
	"gpuwatch/internal/task/scheduler"
	"gpuwatch/internal/telemetry"
	logx "gpuwatch/pkg/logx"
)

// App wires telemetry, the monitor, the dispatcher and the scheduler into
// one daemon.
type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	provider telemetry.Provider
	disp     *notifier.Dispatcher
	mon      *monitor.Monitor
	sched    *scheduler.Service
	metrics  *metrics.Metrics
	http     *httpapi.Server

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	stopped bool
}

// Option overrides a component; used by tests and the CLI.
type Option func(*options)

type options struct {
	provider  telemetry.Provider
	deliverer notifier.Deliverer
	log       logx.Logger
}

func WithProvider(p telemetry.Provider) Option { return func(o *options) { o.provider = p } }

func WithDeliverer(d notifier.Deliverer) Option { return func(o *options) { o.deliverer = d } }

// WithLogger replaces the config-driven logging service.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// NewApp loads cfgPath and builds the daemon. Config reloads are watched
// once Start runs.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	return a, nil
}

// New builds the daemon from an already validated config.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{cfg: cfg}
	if o.log.IsZero() {
		a.logs, a.log = logx.New(mapLogConfig(cfg))
	} else {
		a.log = o.log
	}
	root := a.log
	a.log = root.With(logx.String("comp", "app"))

	a.metrics = metrics.New()

	a.provider = o.provider
	if a.provider == nil {
		p, err := OpenTelemetry(cfg, root)
		if err != nil {
			return nil, err
		}
		a.provider = p
	}

	disp, err := OpenDispatcher(cfg, o.deliverer, a.metrics, root)
	if err != nil {
		return nil, err
	}
	a.disp = disp

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Schedule.Timezone}, root.With(logx.String("comp", "scheduler")))
	loc := a.sched.Location()

	a.mon = monitor.New(mapMonitorConfig(cfg, loc), a.provider, a.disp, root.With(logx.String("comp", "monitor")),
		monitor.WithTitle(titleFunc(cfg)),
		monitor.WithMetrics(a.metrics),
	)

	jobTimeout, err := config.ParseDurationField("schedule.job_timeout", cfg.Schedule.JobTimeout)
	if err != nil {
		return nil, err
	}
	jobs := a.mon.Jobs()
	for i := range jobs {
		jobs[i].Timeout = jobTimeout
	}
	if err := a.sched.AddAll(jobs...); err != nil {
		return nil, err
	}

	if cfg.HTTP.Enabled {
		a.http = httpapi.New(httpapi.Config{Addr: cfg.HTTP.Addr}, func() any { return a.Status() }, a.metrics.Registry,
			root.With(logx.String("comp", "http")))
	}
	return a, nil
}

// Monitor exposes the monitor (CLI, tests).
func (a *App) Monitor() *monitor.Monitor { return a.mon }

// Scheduler exposes the scheduler (CLI, tests).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Start initializes telemetry, starts the triggers and background tasks and
// reports readiness to systemd.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return nil
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.sup = sup
	cfg := a.cfg
	a.mu.Unlock()

	if err := a.provider.Init(ctx); err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}

	a.sched.Start(sup.Context())

	if a.http != nil {
		sup.GoRestart("http", a.http.Serve, 500*time.Millisecond, 10*time.Second)
	}
	if a.cfgm != nil {
		updates := a.cfgm.Subscribe(1)
		sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
		sup.Go("config.apply", func(ctx context.Context) error {
			defer a.cfgm.Unsubscribe(updates)
			a.applyUpdates(ctx, updates)
			return nil
		})
	}
	if every := watchdogInterval(); every > 0 {
		sup.Go("watchdog", func(ctx context.Context) error {
			return runWatchdog(ctx, a.log, every)
		})
	}

	a.log.Info("started",
		logx.Int("recipients", len(a.disp.Recipients())),
		logx.String("tz", a.sched.Location().String()),
		logx.String("transport", cfg.Transport.Kind),
		logx.String("telemetry", cfg.Telemetry.Driver),
	)
	sdNotify(a.log, daemon.SdNotifyReady)
	return nil
}

// RunJob runs one registered job immediately, outside its trigger, with
// telemetry opened for the duration of the run. It is meant for one-shot use
// on an App that was never started.
func (a *App) RunJob(ctx context.Context, name string) error {
	if err := a.provider.Init(ctx); err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	err := a.sched.RunNow(ctx, name)
	if cerr := a.provider.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("telemetry: %w", cerr))
	}
	return err
}

func (a *App) applyUpdates(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			a.mu.Lock()
			prev := a.cfg
			a.cfg = next
			a.mu.Unlock()

			changed, attrs := config.SummarizeConfigChange(prev, next)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Strings("changed", changed))...)
			for _, s := range changed {
				if s == "logging" && a.logs != nil {
					a.logs.Apply(mapLogConfig(next))
				}
			}
			if pending := config.RestartRequired(changed); len(pending) > 0 {
				a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(pending, ",")))
			}
		}
	}
}

// Stop halts the scheduler and releases telemetry. Both are attempted even
// if one fails; the errors are joined.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	sup := a.sup
	a.mu.Unlock()

	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	if err := a.sched.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := a.provider.Close(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("background tasks: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Error("stopped with errors", logx.Err(err))
	} else {
		a.log.Info("stopped")
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Status is the /status document.
type Status struct {
	Monitor    monitor.Status         `json:"monitor"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Deliveries []notifier.HistoryItem `json:"deliveries"`
	Runtime    supervisor.Snapshot    `json:"runtime"`
	Recipients int                    `json:"recipients"`
}

func (a *App) Status() Status {
	st := Status{
		Monitor:    a.mon.Status(),
		Scheduler:  a.sched.Snapshot(),
		Deliveries: a.disp.Snapshot(),
		Recipients: len(a.disp.Recipients()),
	}
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup != nil {
		st.Runtime = sup.Snapshot()
	}
	return st
}
