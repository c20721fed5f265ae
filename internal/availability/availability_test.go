package availability

import (
	"math/rand"
	"testing"

	"gpuwatch/internal/telemetry"
)

var (
	idle     = telemetry.Reading{}
	withProc = telemetry.Reading{ProcessCount: 1}
	withMem  = telemetry.Reading{MemoryUsedRatio: 0.031}
	withUtil = telemetry.Reading{UtilizationPercent: 5.5}
)

func TestOccupiedThresholds(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		name string
		r    telemetry.Reading
		want bool
	}{
		{"idle", idle, false},
		{"process", withProc, true},
		{"process wins over idle metrics", telemetry.Reading{ProcessCount: 3}, true},
		{"memory above", withMem, true},
		{"memory at threshold", telemetry.Reading{MemoryUsedRatio: 0.03}, false},
		{"util above", withUtil, true},
		{"util at threshold", telemetry.Reading{UtilizationPercent: 5}, false},
	}
	for _, tc := range cases {
		if got := p.Occupied(tc.r); got != tc.want {
			t.Errorf("%s: Occupied = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvaluateTolerance(t *testing.T) {
	cases := []struct {
		name string
		rs   []telemetry.Reading
		want Signal
	}{
		{"no devices", nil, Free},
		{"all idle", []telemetry.Reading{idle, idle, idle}, Free},
		{"one occupied", []telemetry.Reading{withProc}, Free},
		{"one of four occupied", []telemetry.Reading{idle, withMem, idle, idle}, Free},
		{"two occupied", []telemetry.Reading{withProc, withUtil}, Busy},
		{"all occupied", []telemetry.Reading{withProc, withMem, withUtil}, Busy},
	}
	for _, tc := range cases {
		if got := Evaluate(tc.rs); got != tc.want {
			t.Errorf("%s: Evaluate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvaluatePermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pool := []telemetry.Reading{idle, withProc, withMem, withUtil}
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(6)
		rs := make([]telemetry.Reading, n)
		for i := range rs {
			rs[i] = pool[rng.Intn(len(pool))]
		}
		want := Evaluate(rs)
		for k := 0; k < 5; k++ {
			cp := append([]telemetry.Reading(nil), rs...)
			rng.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
			if got := Evaluate(cp); got != want {
				t.Fatalf("permutation changed result: %v vs %v for %+v", got, want, cp)
			}
		}
	}
}

func TestCustomTolerance(t *testing.T) {
	p := DefaultPolicy()
	p.BusyTolerance = 0
	if got := p.Evaluate([]telemetry.Reading{withProc}); got != Busy {
		t.Fatalf("tolerance 0 with one occupied = %v, want busy", got)
	}
}

func TestSignalString(t *testing.T) {
	if Free.String() != "free" || Busy.String() != "busy" || Unknown.String() != "unknown" {
		t.Fatal("unexpected signal names")
	}
}
