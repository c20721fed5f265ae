package telemetry

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotInitialized = errors.New("telemetry provider not initialized")

// Reading is a point-in-time snapshot of one device.
type Reading struct {
	Index              int     `json:"index"`
	ProcessCount       int     `json:"process_count"`
	MemoryUsedRatio    float64 `json:"memory_used_ratio"`   // 0..1
	UtilizationPercent float64 `json:"utilization_percent"` // 0..100
}

// Provider reads per-device metrics.
//
// Init must be called before the first read and Close on shutdown.
type Provider interface {
	Init(ctx context.Context) error
	DeviceCount(ctx context.Context) (int, error)
	ReadDevice(ctx context.Context, index int) (Reading, error)
	Close() error
}

// ReadAll enumerates all visible devices and reads each one.
// Any failure aborts the whole read; callers never see a partial set.
func ReadAll(ctx context.Context, p Provider) ([]Reading, error) {
	if p == nil {
		return nil, ErrNotInitialized
	}
	n, err := p.DeviceCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("device count: %w", err)
	}
	out := make([]Reading, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := p.ReadDevice(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("read device %d: %w", i, err)
		}
		r.Index = i
		out = append(out, r)
	}
	return out, nil
}
