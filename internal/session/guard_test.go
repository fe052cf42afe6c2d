package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) SendText(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func newTestGuard(t *testing.T, stopErr error) (*Guard, *TradeStore, *recordingNotifier, func() int, chan SquareOffReport) {
	t.Helper()
	store := NewTradeStore()

	var mu sync.Mutex
	exits := 0
	so := NewSquareOff(func(context.Context, string) error {
		mu.Lock()
		exits++
		mu.Unlock()
		return nil
	}, 4, 0)

	stops := 0
	stop := func(context.Context) error {
		mu.Lock()
		stops++
		mu.Unlock()
		return stopErr
	}

	notifier := &recordingNotifier{}
	g := NewGuard(store, so, stop, notifier)

	tripped := make(chan SquareOffReport, 4)
	g.OnTrip = func(_ float64, report SquareOffReport) { tripped <- report }

	counts := func() int {
		mu.Lock()
		defer mu.Unlock()
		return stops
	}
	return g, store, notifier, counts, tripped
}

func waitTrip(t *testing.T, ch chan SquareOffReport) SquareOffReport {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("guard did not trip")
		return SquareOffReport{}
	}
}

func TestGuardTripsOnceOnThresholdCross(t *testing.T) {
	g, store, _, stops, tripped := newTestGuard(t, nil)
	store.ApplySnapshot([]Position{pos("1", 0), pos("2", 0)})

	g.Restore(true, 1000)

	for _, pnl := range []float64{-200, -600, -1050, -1200} {
		g.OnPnL(pnl)
	}

	report := waitTrip(t, tripped)
	assert.Len(t, report.Outcomes, 2)
	assert.Empty(t, report.Failed())

	// The later, deeper values must not re-trip.
	g.OnPnL(-2000)
	select {
	case <-tripped:
		t.Fatal("guard tripped twice")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, stops())
	assert.True(t, g.State().Triggered)
}

func TestGuardExactThresholdTrips(t *testing.T) {
	g, _, _, _, tripped := newTestGuard(t, nil)
	g.Restore(true, 500)

	g.OnPnL(-500)
	waitTrip(t, tripped)
}

func TestGuardDisabledNeverTrips(t *testing.T) {
	g, _, _, stops, tripped := newTestGuard(t, nil)
	g.Restore(false, 500)

	g.OnPnL(-10000)
	select {
	case <-tripped:
		t.Fatal("disabled guard tripped")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, stops())
}

func TestGuardLiquidatesDespiteStopFailure(t *testing.T) {
	g, store, notifier, stops, tripped := newTestGuard(t, errors.New("engine wedged"))
	store.ApplySnapshot([]Position{pos("1", 0)})
	g.Restore(true, 100)

	g.OnPnL(-150)
	report := waitTrip(t, tripped)

	assert.Equal(t, 1, stops())
	assert.Len(t, report.Outcomes, 1)
	assert.Empty(t, report.Failed())
	msgs := notifier.messages()
	assert.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "engine stop failed")
}

func TestGuardTripSendsOneSummary(t *testing.T) {
	g, store, notifier, _, tripped := newTestGuard(t, nil)
	store.ApplySnapshot([]Position{pos("1", 0), pos("2", 0)})
	g.Restore(true, 1000)

	g.OnPnL(-1250)
	waitTrip(t, tripped)

	msgs := notifier.messages()
	assert.Len(t, msgs, 1, "a trip reports once, not per step")
	assert.Contains(t, msgs[0], "SAFETY GUARD ACTIVATED")
	assert.Contains(t, msgs[0], "engine stopped")
	assert.Contains(t, msgs[0], "exit sent for all 2 positions")
}

func TestGuardLatchResetsOnlyViaEnableCycle(t *testing.T) {
	g, _, _, _, tripped := newTestGuard(t, nil)
	g.Restore(true, 100)

	g.OnPnL(-100)
	waitTrip(t, tripped)
	assert.True(t, g.State().Triggered)

	// Disabling alone leaves the latch; re-enabling clears it.
	g.SetEnabled(false)
	assert.True(t, g.State().Triggered)
	g.SetEnabled(true)
	assert.False(t, g.State().Triggered)

	g.OnPnL(-120)
	waitTrip(t, tripped)
}

func TestGuardMaxLossLockedWhileEnabled(t *testing.T) {
	g, _, _, _, _ := newTestGuard(t, nil)

	assert.NoError(t, g.SetMaxLoss(250))

	g.SetEnabled(true)
	err := g.SetMaxLoss(500)
	assert.ErrorIs(t, err, ErrGuardLocked)
	assert.InDelta(t, 250, g.State().MaxLoss, 1e-9)

	g.SetEnabled(false)
	assert.NoError(t, g.SetMaxLoss(500))

	assert.Error(t, g.SetMaxLoss(0))
	assert.Error(t, g.SetMaxLoss(-10))
}

func TestGuardRestoreClearsLatch(t *testing.T) {
	g, _, _, _, tripped := newTestGuard(t, nil)
	g.Restore(true, 100)
	g.OnPnL(-100)
	waitTrip(t, tripped)

	// A fresh boot restores settings but never the latch.
	g.Restore(true, 100)
	assert.False(t, g.State().Triggered)
}
