package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("kaboom") })
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Err() == nil {
		t.Fatalf("panic not recorded")
	}
	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Panics != 1 || snap.Tasks[0].Running {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never succeeded")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d", got)
	}
	if snap := s.Snapshot(); snap.Tasks[0].Restarts != 2 {
		t.Fatalf("restarts = %d", snap.Tasks[0].Restarts)
	}
}

func TestStopCancelsTasks(t *testing.T) {
	s := New(context.Background())
	s.GoRestart("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Err() != nil {
		t.Fatalf("cancellation reported as error: %v", s.Err())
	}
	if s.Snapshot().Active != 0 {
		t.Fatalf("tasks still active")
	}
}
