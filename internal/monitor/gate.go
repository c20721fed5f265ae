package monitor

import (
	"sync"

	"gpuwatch/internal/availability"
)

const DefaultSendLimit = 4

// Intent is what a qualifying transition asks the dispatcher to say.
type Intent int

const (
	IntentNone Intent = iota
	BecameAvailable
	BecameOccupied
)

func (i Intent) String() string {
	switch i {
	case BecameAvailable:
		return "became_available"
	case BecameOccupied:
		return "became_occupied"
	default:
		return "none"
	}
}

// State is the monitor's mutable state. Only Gate mutates it.
type State struct {
	LastSignal availability.Signal `json:"last_signal"`
	SentCount  int                 `json:"sent_count"`
	SentLimit  int                 `json:"sent_limit"`
}

// Decision is the result of one OnPoll.
type Decision struct {
	Previous   availability.Signal
	Current    availability.Signal
	Intent     Intent // non-None when the transition qualified
	Suppressed bool   // qualified, but the window budget was spent
}

// Fire reports whether a notification should go out.
func (d Decision) Fire() bool { return d.Intent != IntentNone && !d.Suppressed }

// Gate is the edge-triggered, rate-limited notification state machine.
//
// All state changes happen under one mutex so a reset can never observe a
// half-applied poll.
type Gate struct {
	mu              sync.Mutex
	st              State
	notifyOnStartup bool
}

// NewGate returns a gate in the Unknown state. With notifyOnStartup the first
// poll after start fires like a regular transition (Unknown->Free announces
// availability, Unknown->Busy announces occupancy); otherwise it only records.
func NewGate(limit int, notifyOnStartup bool) *Gate {
	if limit <= 0 {
		limit = DefaultSendLimit
	}
	return &Gate{st: State{LastSignal: availability.Unknown, SentLimit: limit}, notifyOnStartup: notifyOnStartup}
}

// OnPoll records current and decides whether to notify. A non-suppressed
// fire consumes one unit of the window budget before anything is sent.
func (g *Gate) OnPoll(current availability.Signal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := Decision{Previous: g.st.LastSignal, Current: current, Intent: g.intentLocked(g.st.LastSignal, current)}
	if d.Intent != IntentNone {
		if g.st.SentCount >= g.st.SentLimit {
			d.Suppressed = true
		} else {
			g.st.SentCount++
		}
	}
	g.st.LastSignal = current
	return d
}

func (g *Gate) intentLocked(prev, cur availability.Signal) Intent {
	switch {
	case prev == cur:
		return IntentNone
	case prev == availability.Unknown && !g.notifyOnStartup:
		return IntentNone
	case cur == availability.Free:
		return BecameAvailable
	case cur == availability.Busy:
		return BecameOccupied
	default:
		return IntentNone
	}
}

// Reset opens a new rate-limit window. LastSignal is untouched.
func (g *Gate) Reset() (previousCount int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	previousCount = g.st.SentCount
	g.st.SentCount = 0
	return previousCount
}

// Snapshot returns a copy of the current state.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st
}
