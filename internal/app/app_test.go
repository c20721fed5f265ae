package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gpuwatch/internal/availability"
	"gpuwatch/internal/config"
	"gpuwatch/internal/task/scheduler"
	"gpuwatch/internal/telemetry"
	logx "gpuwatch/pkg/logx"
)

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDeliverer) Name() string { return "fake" }

func (f *fakeDeliverer) Deliver(_ context.Context, recipient, title, body string) error {
	f.mu.Lock()
	f.calls = append(f.calls, recipient+"|"+title+"|"+body)
	f.mu.Unlock()
	return nil
}

func (f *fakeDeliverer) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type failingClose struct{ *telemetry.Static }

func (f failingClose) Close() error {
	_ = f.Static.Close()
	return errors.New("driver busy")
}

func testConfig(t *testing.T, src string) *config.Config {
	t.Helper()
	cfg, err := config.Decode("test.json", []byte(src))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestPollJobNotifiesOnTransition(t *testing.T) {
	cfg := testConfig(t, `{"recipients":["A","B"],"title":"gpu-box","transport":{"backoff":"1ms"}}`)
	busy := []telemetry.Reading{{ProcessCount: 1}, {ProcessCount: 2}}
	p := telemetry.NewStatic(busy...)
	d := &fakeDeliverer{}

	a, err := New(cfg, WithProvider(p), WithDeliverer(d), WithLogger(logx.Nop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	if err := a.Scheduler().RunNow(ctx, "poll"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := a.Monitor().Gate().Snapshot().LastSignal; got != availability.Busy {
		t.Fatalf("signal = %v", got)
	}

	p.Set(telemetry.Reading{}, telemetry.Reading{})
	if err := a.Scheduler().RunNow(ctx, "poll"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	calls := d.all()
	want := []string{"A|gpu-box|GPU available", "B|gpu-box|GPU available"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v", calls)
	}

	st := a.Status()
	if st.Monitor.State.SentCount != 1 || len(st.Deliveries) != 2 || st.Recipients != 2 {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Scheduler.Schedules) != 3 {
		t.Fatalf("schedules = %+v", st.Scheduler.Schedules)
	}
}

func TestHeartbeatJob(t *testing.T) {
	cfg := testConfig(t, `{"recipients":"A"}`)
	d := &fakeDeliverer{}
	a, err := New(cfg, WithProvider(telemetry.NewStatic()), WithDeliverer(d), WithLogger(logx.Nop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Scheduler().RunNow(context.Background(), "heartbeat"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	calls := d.all()
	if len(calls) != 1 || !strings.HasPrefix(calls[0], "A|current time|") {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRunJobOpensAndReleasesTelemetry(t *testing.T) {
	cfg := testConfig(t, `{"recipients":"A","notify_on_startup":true}`)
	st := telemetry.NewStatic(telemetry.Reading{ProcessCount: 1}, telemetry.Reading{ProcessCount: 1})
	d := &fakeDeliverer{}
	a, err := New(cfg, WithProvider(st), WithDeliverer(d), WithLogger(logx.Nop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.RunJob(context.Background(), "poll"); err != nil {
		t.Fatalf("run poll: %v", err)
	}
	if calls := d.all(); len(calls) != 1 || !strings.HasSuffix(calls[0], "|GPU occupied") {
		t.Fatalf("calls = %v", calls)
	}
	if st.Closed() != 1 {
		t.Fatalf("telemetry closed %d times", st.Closed())
	}
	if err := a.RunJob(context.Background(), "nope"); !errors.Is(err, scheduler.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestStopJoinsErrorsAndReleasesTelemetry(t *testing.T) {
	cfg := testConfig(t, `{"recipients":"A"}`)
	st := telemetry.NewStatic()
	a, err := New(cfg, WithProvider(failingClose{st}), WithDeliverer(&fakeDeliverer{}), WithLogger(logx.Nop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = a.Stop(ctx, StopSignal)
	if err == nil || !strings.Contains(err.Error(), "driver busy") {
		t.Fatalf("stop error = %v", err)
	}
	if st.Closed() != 1 {
		t.Fatalf("telemetry closed %d times", st.Closed())
	}
	if a.Scheduler().Snapshot().Running {
		t.Fatalf("scheduler still running")
	}
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestMapPolicy(t *testing.T) {
	zero, half := 0, 0.5
	cfg := &config.Config{Policy: config.PolicyConfig{MemoryRatio: &half, BusyTolerance: &zero}}
	p := Policy(cfg)
	if p.MemoryRatio != 0.5 || p.UtilizationPercent != 5 || p.BusyTolerance != 0 {
		t.Fatalf("policy = %+v", p)
	}
}

func TestMapPolicyKeepsExplicitZeroThresholds(t *testing.T) {
	cfg := testConfig(t, `{"recipients":"A","policy":{"memory_ratio":0,"utilization_percent":0}}`)
	p := Policy(cfg)
	if p.MemoryRatio != 0 || p.UtilizationPercent != 0 {
		t.Fatalf("policy = %+v", p)
	}
}

func TestTitleFunc(t *testing.T) {
	if got := titleFunc(&config.Config{Title: " box "})(); got != "box" {
		t.Fatalf("fixed title = %q", got)
	}
	if got := titleFunc(&config.Config{})(); got == "" {
		t.Fatalf("ip title empty")
	}
}
