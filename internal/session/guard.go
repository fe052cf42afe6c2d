package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"merq/internal/logger"
	"merq/internal/notify"
)

// ErrGuardLocked is returned for maxLoss edits while the guard is armed.
var ErrGuardLocked = errors.New("safety guard is enabled; disable it before changing the limit")

// Guard is the loss circuit breaker. It watches the aggregate P&L and, on
// the first value at or below -maxLoss, latches and drives a best-effort
// stop-and-liquidate sequence.
//
// The latch matters: once the threshold is hit the P&L feed keeps
// delivering values past it (losses continue while liquidation is in
// flight), and without the latch every tick would re-enter and issue a
// duplicate stop/exit storm. The latch clears only on an explicit
// disable/enable cycle, never on its own and never on a manual restart.
type Guard struct {
	mu    sync.Mutex
	state GuardState

	store     *TradeStore
	squareOff *SquareOff
	stop      func(ctx context.Context) error
	notifier  notify.TextNotifier
	tripWait  time.Duration

	// OnTrip, when set, observes completed trips (for the audit journal).
	OnTrip func(pnl float64, report SquareOffReport)
}

// NewGuard wires the guard to its collaborators. stop is invoked before
// liquidation; its failure is ignored because exiting positions must not
// wait on a wedged engine stop.
func NewGuard(store *TradeStore, squareOff *SquareOff, stop func(ctx context.Context) error, notifier notify.TextNotifier) *Guard {
	return &Guard{
		store:     store,
		squareOff: squareOff,
		stop:      stop,
		notifier:  notifier,
		tripWait:  30 * time.Second,
	}
}

// State returns a copy of the guard configuration and latch.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetEnabled arms or disarms the guard. Re-arming clears the latch; this
// is the only path that resets a tripped guard.
func (g *Guard) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.state.Enabled = enabled
	if enabled {
		g.state.Triggered = false
	}
	g.mu.Unlock()
	logger.Infof("safety guard enabled=%v", enabled)
}

// SetMaxLoss updates the loss limit. Rejected while armed, matching the
// dashboard behavior of locking the limit input once the guard is on.
func (g *Guard) SetMaxLoss(limit float64) error {
	if limit <= 0 {
		return fmt.Errorf("max loss must be positive, got %v", limit)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Enabled {
		return ErrGuardLocked
	}
	g.state.MaxLoss = limit
	return nil
}

// Restore seeds enabled/maxLoss from the preference cache at boot. The
// latch always starts clear; it is in-memory session state, not a
// preference.
func (g *Guard) Restore(enabled bool, maxLoss float64) {
	g.mu.Lock()
	g.state.Enabled = enabled
	if maxLoss > 0 {
		g.state.MaxLoss = maxLoss
	}
	g.state.Triggered = false
	g.mu.Unlock()
}

// OnPnL is the tracker subscription. The threshold check and the latch
// update happen under the lock; the stop/liquidate sequence runs on its
// own goroutine so a slow engine never stalls the P&L feed.
func (g *Guard) OnPnL(pnl float64) {
	g.mu.Lock()
	if !g.state.Enabled || g.state.Triggered || g.state.MaxLoss <= 0 || pnl > -math.Abs(g.state.MaxLoss) {
		g.mu.Unlock()
		return
	}
	g.state.Triggered = true
	limit := g.state.MaxLoss
	g.mu.Unlock()

	logger.Errorf("SAFETY GUARD TRIPPED: pnl=%.2f limit=%.2f", pnl, limit)
	go g.trip(pnl)
}

// trip runs the stop-and-liquidate sequence. The whole trip surfaces as
// a single summary notification; the stop itself goes through the quiet
// controller path so no per-step messages interleave with it.
func (g *Guard) trip(pnl float64) {
	ctx, cancel := context.WithTimeout(context.Background(), g.tripWait)
	defer cancel()

	stopNote := "engine stopped"
	if g.stop != nil {
		if err := g.stop(ctx); err != nil {
			// Proceed regardless: liquidation must not depend on a clean stop.
			logger.Warnf("safety guard: engine stop failed, liquidating anyway: %v", err)
			stopNote = "engine stop failed"
		}
	}

	ids := g.store.IDs()
	var report SquareOffReport
	exitNote := "no open positions"
	if len(ids) > 0 && g.squareOff != nil {
		report = g.squareOff.Run(ctx, ids)
		if failed := len(report.Failed()); failed > 0 {
			exitNote = fmt.Sprintf("exit sent for %d positions, %d failed and remain open", len(ids), failed)
		} else {
			exitNote = fmt.Sprintf("exit sent for all %d positions", len(ids))
		}
	}

	g.sendText(fmt.Sprintf("SAFETY GUARD ACTIVATED: max loss hit (P&L %.2f); %s; %s.", pnl, stopNote, exitNote))

	if g.OnTrip != nil {
		g.OnTrip(pnl, report)
	}
}

func (g *Guard) sendText(text string) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.SendText(text); err != nil {
		logger.Warnf("safety guard: notify failed: %v", err)
	}
}
