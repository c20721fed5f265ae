package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	logx "gpuwatch/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// Location returns the trigger timezone (resolved on Start, or now if not started).
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

// Start starts cron triggering. Jobs registered before Start are picked up;
// jobs added later are registered immediately.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)

	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.job.Name), logx.String("spec", d.spec.String()), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for in-flight runs until ctx expires.
// Runs still going at the deadline get their context canceled.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)), logx.Err(err))
	return err
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.c
	defs := append([]*scheduleDef(nil), s.defs...)
	ids := make([]cron.EntryID, len(defs))
	for i, d := range defs {
		ids[i] = d.entryID
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	s.mu.Unlock()

	snap := Snapshot{Running: c != nil, Timezone: loc.String()}
	s.statMu.Lock()
	defer s.statMu.Unlock()
	for i, d := range defs {
		it := ScheduleInfo{
			Name:     d.job.Name,
			Spec:     d.spec.String(),
			Kind:     d.spec.Kind.String(),
			Timeout:  d.job.Timeout,
			Running:  d.running.Load(),
			Runs:     d.runs,
			Skipped:  d.skipped,
			Failed:   d.failed,
			LastRun:  d.lastRun,
			LastTook: d.lastTook,
			LastErr:  d.lastErr,
		}
		if c != nil && ids[i] != 0 {
			e := c.Entry(ids[i])
			it.Next = e.Next
			it.Prev = e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's internal logging into logx.
// Its chatter ("wake", "run") goes to trace; errors stay errors.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
