// Package availability turns per-device telemetry into a single Free/Busy
// signal.
//
// A device is occupied when it has any compute process, or failing that when
// its memory or utilization crosses a threshold. The aggregate tolerates
// BusyTolerance occupied devices (one by default) before reporting Busy: a
// single long-running job on a shared box still leaves the rest usable.
package availability

import "gpuwatch/internal/telemetry"

// Signal is the aggregate availability state.
type Signal int

const (
	Unknown Signal = iota
	Free
	Busy
)

func (s Signal) String() string {
	switch s {
	case Free:
		return "free"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Policy holds the occupancy thresholds.
type Policy struct {
	MemoryRatio        float64 // occupied when used/total is strictly above
	UtilizationPercent float64 // occupied when utilization is strictly above
	BusyTolerance      int     // Busy when occupied devices are strictly above
}

// DefaultPolicy returns the stock thresholds: 3% memory, 5% utilization, one
// occupied device tolerated.
func DefaultPolicy() Policy {
	return Policy{MemoryRatio: 0.03, UtilizationPercent: 5, BusyTolerance: 1}
}

// Occupied reports whether a single device counts as in use.
// Checks run in order: process count, memory ratio, utilization.
func (p Policy) Occupied(r telemetry.Reading) bool {
	if r.ProcessCount > 0 {
		return true
	}
	if r.MemoryUsedRatio > p.MemoryRatio {
		return true
	}
	return r.UtilizationPercent > p.UtilizationPercent
}

// CountOccupied returns how many readings are occupied.
func (p Policy) CountOccupied(readings []telemetry.Reading) int {
	n := 0
	for _, r := range readings {
		if p.Occupied(r) {
			n++
		}
	}
	return n
}

// Evaluate collapses readings into Free or Busy. It never returns Unknown.
func (p Policy) Evaluate(readings []telemetry.Reading) Signal {
	if p.CountOccupied(readings) > p.BusyTolerance {
		return Busy
	}
	return Free
}

// Evaluate applies DefaultPolicy.
func Evaluate(readings []telemetry.Reading) Signal {
	return DefaultPolicy().Evaluate(readings)
}
