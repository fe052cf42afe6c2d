package session

import (
	"math"
	"sync"
)

// PnLTracker holds the latest aggregate profit/loss reported by the engine
// and fans value changes out to subscribers. The safety guard listens here
// rather than on the trade store: the aggregate number is its trigger
// signal, positions are only the liquidation target.
type PnLTracker struct {
	mu        sync.Mutex
	value     float64
	set       bool
	observers []func(pnl float64)
}

func NewPnLTracker() *PnLTracker {
	return &PnLTracker{}
}

// Subscribe registers an observer for value changes. Observers run outside
// the tracker lock and receive the new value.
func (t *PnLTracker) Subscribe(fn func(pnl float64)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Set updates the aggregate P&L. Subscribers are notified only when the
// value actually moved (beyond float noise).
func (t *PnLTracker) Set(value float64) {
	t.mu.Lock()
	if t.set && math.Abs(value-t.value) < 1e-9 {
		t.mu.Unlock()
		return
	}
	t.value = value
	t.set = true
	obs := append([]func(float64){}, t.observers...)
	t.mu.Unlock()
	for _, fn := range obs {
		fn(value)
	}
}

// Value returns the latest aggregate P&L (zero before the first update).
func (t *PnLTracker) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}
