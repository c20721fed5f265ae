package telemetry

import (
	"context"
	"fmt"
	"sync"
)

// Static serves a fixed reading set. It backs dry runs (driver "static")
// and tests; Set swaps the readings between polls.
type Static struct {
	mu       sync.Mutex
	readings []Reading
	err      error
	ready    bool
	closed   int
}

func NewStatic(readings ...Reading) *Static {
	return &Static{readings: append([]Reading(nil), readings...)}
}

// Set replaces the served readings.
func (s *Static) Set(readings ...Reading) {
	s.mu.Lock()
	s.readings = append([]Reading(nil), readings...)
	s.mu.Unlock()
}

// Fail makes every subsequent read return err (nil clears it).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Closed reports how many times Close was called.
func (s *Static) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Static) Init(_ context.Context) error {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Static) Close() error {
	s.mu.Lock()
	s.ready = false
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *Static) DeviceCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, ErrNotInitialized
	}
	if s.err != nil {
		return 0, s.err
	}
	return len(s.readings), nil
}

func (s *Static) ReadDevice(_ context.Context, index int) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return Reading{}, ErrNotInitialized
	}
	if s.err != nil {
		return Reading{}, s.err
	}
	if index < 0 || index >= len(s.readings) {
		return Reading{}, fmt.Errorf("device index %d out of range", index)
	}
	return s.readings[index], nil
}
