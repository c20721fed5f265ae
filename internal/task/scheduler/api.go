package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	logx "gpuwatch/pkg/logx"
)

var ErrUnknownJob = errors.New("scheduler: unknown job")

// Add registers a job, replacing any job with the same name.
func (s *Service) Add(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return errors.New("name required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q: run func required", name)
	}
	ps, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	job.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name: prevents duplicates across repeated registrations.
	s.removeLocked(name)
	d := &scheduleDef{job: job, spec: ps}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not started yet: registered when Start() runs.
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", ps.String()), logx.Err(err))
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", ps.String()), logx.Duration("timeout", job.Timeout)}
	if next := s.previewNextRunsLocked(d, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// AddAll registers several jobs, stopping at the first error.
func (s *Service) AddAll(jobs ...Job) error {
	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// RunNow runs a registered job synchronously, outside its trigger, with the
// same non-overlap rule. It returns the job's error.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var d *scheduleDef
	for _, x := range s.defs {
		if x.job.Name == name {
			d = x
			break
		}
	}
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runDef(ctx, d)
}

// Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.job.Name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			d.entryID = 0
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// Call with s.mu held and s.c non-nil.
func (s *Service) addCronLocked(d *scheduleDef) error {
	runCtx := s.runCtx
	job := cron.FuncJob(func() {
		s.inflight.Add(1)
		defer s.inflight.Done()
		_ = s.runDef(runCtx, d)
	})

	if d.spec.Kind == SpecInterval {
		d.entryID = s.c.Schedule(cron.Every(d.spec.Every), job)
		return nil
	}
	eid, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// runDef executes one run with skip-if-running, timeout and panic recovery.
func (s *Service) runDef(ctx context.Context, d *scheduleDef) (err error) {
	name := d.job.Name
	if !d.running.CompareAndSwap(false, true) {
		s.statMu.Lock()
		d.skipped++
		s.statMu.Unlock()
		s.log.Warn("previous run still in flight; skipping", logx.String("job", name))
		return nil
	}
	defer d.running.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}
	if d.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("job panicked", logx.String("job", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		took := time.Since(start)
		s.statMu.Lock()
		d.runs++
		d.lastRun = start
		d.lastTook = took
		d.lastErr = ""
		if err != nil {
			d.failed++
			d.lastErr = err.Error()
		}
		s.statMu.Unlock()
		if err != nil {
			s.log.Error("job failed", logx.String("job", name), logx.Duration("took", took), logx.Err(err))
		} else {
			s.log.Debug("job done", logx.String("job", name), logx.Duration("took", took))
		}
	}()

	return d.job.Run(ctx)
}

// previewNextRunsLocked returns a short list of upcoming run times. Call with s.mu held.
func (s *Service) previewNextRunsLocked(d *scheduleDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	var sched cron.Schedule
	if d.spec.Kind == SpecInterval {
		sched = cron.Every(d.spec.Every)
	} else {
		var err error
		if sched, err = cronParser.Parse(d.spec.Cron); err != nil {
			return ""
		}
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
