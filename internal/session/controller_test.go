package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeEngine is a scriptable EngineClient.
type fakeEngine struct {
	mu sync.Mutex

	startErr  error
	stopErr   error
	statusErr error
	running   bool
	logs      []string
	pnl       float64
	trades    []Position

	startCalls  int
	stopCalls   int
	updateCalls int
	exitCalls   int
	deleteCalls int
	updateErr   error
	exitErr     error
	deleteErr   error
}

func (f *fakeEngine) Start(context.Context, Config, Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr == nil {
		f.running = true
	}
	return f.startErr
}

func (f *fakeEngine) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.running = false
	return f.stopErr
}

func (f *fakeEngine) Status(context.Context) (bool, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, append([]string(nil), f.logs...), f.statusErr
}

func (f *fakeEngine) PnL(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pnl, nil
}

func (f *fakeEngine) Trades(context.Context) ([]Position, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Position(nil), f.trades...), 0, nil
}

func (f *fakeEngine) UpdateTrade(context.Context, string, float64, float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return f.updateErr
}

func (f *fakeEngine) ExitTrade(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitCalls++
	return f.exitErr
}

func (f *fakeEngine) DeleteActiveTrade(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeEngine) calls() (start, stop int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

func newTestController(t *testing.T, eng *fakeEngine) (*Controller, *TradeStore, *PnLTracker) {
	t.Helper()
	store := NewTradeStore()
	pnl := NewPnLTracker()
	ctl, err := NewController(ControllerOptions{
		Client:       eng,
		Store:        store,
		PnL:          pnl,
		Logs:         NewLogFeed(50),
		PollInterval: time.Second,
	})
	assert.NoError(t, err)
	t.Cleanup(func() {
		if ctl.Status() != StatusOffline {
			_ = ctl.Stop(context.Background())
		}
	})
	return ctl, store, pnl
}

func runningConfig() Config {
	return Config{Symbols: []string{"RELIANCE"}, Strategy: "supertrend", Interval: "5MINUTE"}
}

func TestStartRejectsEmptySymbols(t *testing.T) {
	eng := &fakeEngine{}
	ctl, _, _ := newTestController(t, eng)

	err := ctl.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoSymbols)
	assert.Equal(t, StatusOffline, ctl.Status())

	starts, _ := eng.calls()
	assert.Equal(t, 0, starts, "validation failures must never reach the wire")
}

func TestStartFailureRevertsToOffline(t *testing.T) {
	eng := &fakeEngine{startErr: errors.New("engine down")}
	ctl, _, _ := newTestController(t, eng)
	assert.NoError(t, ctl.SetConfig(runningConfig()))

	err := ctl.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StatusOffline, ctl.Status())
}

func TestStartStopLifecycle(t *testing.T) {
	eng := &fakeEngine{pnl: -42.5, trades: []Position{pos("7", -42.5)}}
	ctl, store, pnl := newTestController(t, eng)
	assert.NoError(t, ctl.SetConfig(runningConfig()))

	var transitions []Status
	var tmu sync.Mutex
	ctl.OnTransition = func(_, to Status) {
		tmu.Lock()
		transitions = append(transitions, to)
		tmu.Unlock()
	}

	assert.NoError(t, ctl.Start(context.Background()))
	assert.Equal(t, StatusRunning, ctl.Status())

	// The first poll fires immediately and fills the store and tracker.
	assert.Eventually(t, func() bool {
		return store.Len() == 1 && pnl.Value() == -42.5
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, ctl.Stop(context.Background()))
	assert.Equal(t, StatusOffline, ctl.Status())

	assert.Eventually(t, func() bool {
		tmu.Lock()
		defer tmu.Unlock()
		return len(transitions) == 4
	}, time.Second, 10*time.Millisecond)
	tmu.Lock()
	assert.Equal(t, []Status{StatusStarting, StatusRunning, StatusStopping, StatusOffline}, transitions)
	tmu.Unlock()
}

func TestStopGoesOfflineEvenWhenEngineStopFails(t *testing.T) {
	eng := &fakeEngine{stopErr: errors.New("timeout")}
	ctl, _, _ := newTestController(t, eng)
	assert.NoError(t, ctl.SetConfig(runningConfig()))
	assert.NoError(t, ctl.Start(context.Background()))

	err := ctl.Stop(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StatusOffline, ctl.Status())
}

func TestStopWhenOffline(t *testing.T) {
	ctl, _, _ := newTestController(t, &fakeEngine{})
	assert.ErrorIs(t, ctl.Stop(context.Background()), ErrNotRunning)
}

func TestModeLockedOutsideOffline(t *testing.T) {
	eng := &fakeEngine{}
	ctl, _, _ := newTestController(t, eng)
	assert.NoError(t, ctl.SetConfig(runningConfig()))

	assert.NoError(t, ctl.SetMode(ModeLive))
	assert.Equal(t, ModeLive, ctl.Mode())

	assert.NoError(t, ctl.Start(context.Background()))
	err := ctl.SetMode(ModePaper)
	assert.ErrorIs(t, err, ErrModeLocked)
	assert.Equal(t, ModeLive, ctl.Mode())

	assert.NoError(t, ctl.Stop(context.Background()))
	assert.NoError(t, ctl.SetMode(ModePaper))
}

func TestConfigLockedOutsideOffline(t *testing.T) {
	eng := &fakeEngine{}
	ctl, _, _ := newTestController(t, eng)
	assert.NoError(t, ctl.SetConfig(runningConfig()))
	assert.NoError(t, ctl.Start(context.Background()))

	err := ctl.SetConfig(Config{Symbols: []string{"TCS"}})
	assert.ErrorIs(t, err, ErrNotOffline)
	assert.Equal(t, []string{"RELIANCE"}, ctl.Config().Symbols)
}

func TestStartWhileBusy(t *testing.T) {
	eng := &fakeEngine{}
	ctl, _, _ := newTestController(t, eng)
	assert.NoError(t, ctl.SetConfig(runningConfig()))
	assert.NoError(t, ctl.Start(context.Background()))

	err := ctl.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	starts, _ := eng.calls()
	assert.Equal(t, 1, starts)
}

// remoteStopEngine accepts every start but reports itself stopped on the
// next status poll, like a bot killed on the server.
type remoteStopEngine struct {
	fakeEngine
}

func (f *remoteStopEngine) Status(context.Context) (bool, []string, error) {
	return false, nil, nil
}

func TestRemoteStopSurvivesImmediateRestart(t *testing.T) {
	eng := &remoteStopEngine{}
	ctl, err := NewController(ControllerOptions{
		Client:       eng,
		Store:        NewTradeStore(),
		PnL:          NewPnLTracker(),
		Logs:         NewLogFeed(10),
		PollInterval: time.Second,
	})
	assert.NoError(t, err)
	assert.NoError(t, ctl.SetConfig(runningConfig()))

	// Every accepted start is adopted back offline by the first status
	// poll. Hammering restarts into that teardown must never reuse the
	// run WaitGroup while the previous Wait is still blocked.
	for i := 0; i < 100; i++ {
		err := ctl.Start(context.Background())
		if err != nil {
			assert.True(t, errors.Is(err, ErrBusy) || errors.Is(err, ErrAlreadyRunning),
				"unexpected start error: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		return ctl.Status() == StatusOffline
	}, 3*time.Second, 5*time.Millisecond)
}

func TestStartValidatesStrategy(t *testing.T) {
	eng := &fakeEngine{}
	store := NewTradeStore()
	ctl, err := NewController(ControllerOptions{
		Client: eng,
		Store:  store,
		PnL:    NewPnLTracker(),
		ValidateStrategy: func(strategy, interval string) error {
			return errors.New("unknown strategy " + strategy)
		},
	})
	assert.NoError(t, err)
	assert.NoError(t, ctl.SetConfig(runningConfig()))

	err = ctl.Start(context.Background())
	assert.ErrorContains(t, err, "unknown strategy")
	assert.Equal(t, StatusOffline, ctl.Status())
	starts, _ := eng.calls()
	assert.Equal(t, 0, starts)
}

func TestResyncAdoptsRunningEngine(t *testing.T) {
	eng := &fakeEngine{running: true, logs: []string{"09:15:00 - INFO - already running"}}
	ctl, _, _ := newTestController(t, eng)

	assert.NoError(t, ctl.Resync(context.Background()))
	assert.Equal(t, StatusRunning, ctl.Status())
}

func TestResyncIdleEngineStaysOffline(t *testing.T) {
	eng := &fakeEngine{running: false}
	ctl, _, _ := newTestController(t, eng)

	assert.NoError(t, ctl.Resync(context.Background()))
	assert.Equal(t, StatusOffline, ctl.Status())
}

func TestUpdatePositionAppliesOnlyAfterConfirm(t *testing.T) {
	eng := &fakeEngine{updateErr: errors.New("rejected")}
	ctl, store, _ := newTestController(t, eng)
	store.ApplySnapshot([]Position{pos("1", 0)})

	err := ctl.UpdatePosition(context.Background(), "1", 2400, 2600)
	assert.Error(t, err)
	got, _ := store.Get("1")
	assert.InDelta(t, 2470.00, got.StopLoss, 1e-9)

	eng.mu.Lock()
	eng.updateErr = nil
	eng.mu.Unlock()
	assert.NoError(t, ctl.UpdatePosition(context.Background(), "1", 2400, 2600))
	got, _ = store.Get("1")
	assert.InDelta(t, 2400, got.StopLoss, 1e-9)
	assert.InDelta(t, 2600, got.TakeProfit, 1e-9)
}

func TestExitPositionKeepsLocalRecord(t *testing.T) {
	eng := &fakeEngine{}
	ctl, store, _ := newTestController(t, eng)
	store.ApplySnapshot([]Position{pos("1", 0)})

	assert.NoError(t, ctl.ExitPosition(context.Background(), "1"))
	_, ok := store.Get("1")
	assert.True(t, ok, "only a snapshot may declare the position gone")
}

func TestDismissRemovesLocallyEvenOnEngineFailure(t *testing.T) {
	eng := &fakeEngine{deleteErr: errors.New("unreachable")}
	ctl, store, _ := newTestController(t, eng)
	store.ApplySnapshot([]Position{pos("1", 0)})

	assert.NoError(t, ctl.DismissPosition(context.Background(), "1"))
	_, ok := store.Get("1")
	assert.False(t, ok)
}

func TestStaleTransportResultsDropped(t *testing.T) {
	eng := &fakeEngine{trades: []Position{pos("1", 5)}}
	ctl, store, _ := newTestController(t, eng)
	assert.NoError(t, ctl.SetConfig(runningConfig()))
	assert.NoError(t, ctl.Start(context.Background()))

	assert.Eventually(t, func() bool { return store.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, ctl.Stop(context.Background()))

	// A tick that raced the stop carries the old generation and is ignored.
	stale := float64(-9999)
	ctl.applyTick(1, Tick{PnL: &stale, Trades: []Position{pos("2", 0)}})
	assert.Equal(t, 1, store.Len())
	_, ok := store.Get("2")
	assert.False(t, ok)
}
