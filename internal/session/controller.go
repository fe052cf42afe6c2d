package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"merq/internal/logger"
	"merq/internal/notify"
)

var (
	// ErrNoSymbols rejects a start with an empty watchlist before any
	// request is sent.
	ErrNoSymbols = errors.New("no symbols selected")
	// ErrNotOffline rejects config edits outside OFFLINE.
	ErrNotOffline = errors.New("session is not offline")
	// ErrModeLocked rejects a mode switch while the engine runs.
	ErrModeLocked = errors.New("mode cannot change while the engine is running")
	// ErrNotRunning rejects a stop when nothing runs.
	ErrNotRunning = errors.New("session is not running")
	// ErrAlreadyRunning rejects a start while the engine runs.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrBusy rejects a start while a previous transition is in flight.
	ErrBusy = errors.New("session transition already in flight")
)

// EngineClient is the REST surface the controller drives. The concrete
// implementation lives in the engine gateway.
type EngineClient interface {
	Start(ctx context.Context, cfg Config, mode Mode) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (running bool, logs []string, err error)
	PnL(ctx context.Context) (float64, error)
	Trades(ctx context.Context) ([]Position, int, error)
	UpdateTrade(ctx context.Context, id string, sl, tp float64) error
	ExitTrade(ctx context.Context, id string) error
	DeleteActiveTrade(ctx context.Context, id string) error
}

// Tick is one push update from the engine socket.
type Tick struct {
	PnL    *float64
	Trades []Position
}

// StreamFunc pumps tick events into out until ctx is cancelled. A nil
// StreamFunc leaves the poll loop as the only feed.
type StreamFunc func(ctx context.Context, out chan<- Tick) error

// ControllerOptions collects construction parameters.
type ControllerOptions struct {
	Client       EngineClient
	Stream       StreamFunc
	Store        *TradeStore
	PnL          *PnLTracker
	Logs         *LogFeed
	Notifier     notify.TextNotifier
	PollInterval time.Duration
	// ValidateStrategy, when set, checks strategy/interval against the
	// catalog before a start request is built.
	ValidateStrategy func(strategy, interval string) error
}

// Controller owns the session state machine
// (OFFLINE→STARTING→RUNNING→STOPPING→OFFLINE), the PAPER/LIVE mode gate,
// and the lifecycle of the two transports feeding the trade store and P&L
// tracker. The trade store and tracker are mutated only by the transport
// callbacks it owns; everyone else reads.
type Controller struct {
	mu     sync.Mutex
	status Status
	mode   Mode
	cfg    Config

	// gen identifies the current occupancy of RUNNING. Transport results
	// that arrive after the session left RUNNING carry a stale gen and
	// are dropped rather than applied.
	gen       uint64
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	client           EngineClient
	stream           StreamFunc
	store            *TradeStore
	pnl              *PnLTracker
	logs             *LogFeed
	notifier         notify.TextNotifier
	pollInterval     time.Duration
	validateStrategy func(strategy, interval string) error

	// OnTransition observes state changes (for the audit journal).
	OnTransition func(from, to Status)
	// OnModeChange fires after a successful mode switch (for the
	// preference cache).
	OnModeChange func(Mode)
	// OnConfigChange fires after a successful config edit.
	OnConfigChange func(Config)
}

// NewController builds an idle controller in OFFLINE/PAPER.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("controller requires an engine client")
	}
	if opts.Store == nil || opts.PnL == nil {
		return nil, fmt.Errorf("controller requires a trade store and pnl tracker")
	}
	if opts.PollInterval < time.Second {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Logs == nil {
		opts.Logs = NewLogFeed(0)
	}
	return &Controller{
		status:           StatusOffline,
		mode:             ModePaper,
		client:           opts.Client,
		stream:           opts.Stream,
		store:            opts.Store,
		pnl:              opts.PnL,
		logs:             opts.Logs,
		notifier:         opts.Notifier,
		pollInterval:     opts.PollInterval,
		validateStrategy: opts.ValidateStrategy,
	}, nil
}

// Status returns the current session state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Mode returns the current trading mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Config returns a copy of the current strategy configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.cfg
	cfg.Symbols = append([]string(nil), c.cfg.Symbols...)
	return cfg
}

// SetMode switches PAPER/LIVE. Only legal while OFFLINE; the attempt is
// otherwise rejected and surfaced as a warning, leaving the mode as-is.
func (c *Controller) SetMode(mode Mode) error {
	c.mu.Lock()
	if c.status != StatusOffline {
		c.mu.Unlock()
		c.notify(fmt.Sprintf("Mode switch to %s rejected: stop the engine first.", mode))
		return ErrModeLocked
	}
	if c.mode == mode {
		c.mu.Unlock()
		return nil
	}
	c.mode = mode
	hook := c.OnModeChange
	c.mu.Unlock()
	logger.Infof("session mode set to %s", mode)
	if hook != nil {
		hook(mode)
	}
	return nil
}

// SetConfig replaces the strategy configuration. Only legal while OFFLINE.
func (c *Controller) SetConfig(cfg Config) error {
	normalizeConfig(&cfg)
	c.mu.Lock()
	if c.status != StatusOffline {
		c.mu.Unlock()
		return ErrNotOffline
	}
	c.cfg = cfg
	hook := c.OnConfigChange
	c.mu.Unlock()
	if hook != nil {
		hook(cfg)
	}
	return nil
}

// Start drives OFFLINE→STARTING→RUNNING. Validation failures never reach
// the wire; an engine rejection or transport error reverts to OFFLINE
// with a single notification and no retry.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusOffline:
	case StatusStarting, StatusStopping:
		c.mu.Unlock()
		return ErrBusy
	default:
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(c.cfg.Symbols) == 0 {
		c.mu.Unlock()
		c.notify("Select at least one symbol before starting.")
		return ErrNoSymbols
	}
	if c.validateStrategy != nil {
		if err := c.validateStrategy(c.cfg.Strategy, c.cfg.Interval); err != nil {
			c.mu.Unlock()
			c.notify(fmt.Sprintf("Start rejected: %v", err))
			return err
		}
	}
	cfg := c.cfg
	mode := c.mode
	c.transitionLocked(StatusStarting)
	c.mu.Unlock()

	if err := c.client.Start(ctx, cfg, mode); err != nil {
		c.mu.Lock()
		if c.status == StatusStarting {
			c.transitionLocked(StatusOffline)
		}
		c.mu.Unlock()
		c.notify(fmt.Sprintf("Failed to start engine: %v", err))
		return err
	}

	c.mu.Lock()
	if c.status != StatusStarting {
		// A concurrent stop won the race; do not resurrect the session.
		c.mu.Unlock()
		return nil
	}
	c.transitionLocked(StatusRunning)
	c.startTransportsLocked()
	c.mu.Unlock()

	c.notify(fmt.Sprintf("Engine started in %s mode.", mode))
	return nil
}

// Stop drives RUNNING→STOPPING→OFFLINE. The transports are torn down
// synchronously before the engine call; the stop request itself is
// best-effort and never traps the session in RUNNING.
func (c *Controller) Stop(ctx context.Context) error {
	return c.stop(ctx, false)
}

// StopQuiet is Stop without the user-facing messages. The safety guard
// uses it so a trip surfaces as one summary instead of a message per
// step.
func (c *Controller) StopQuiet(ctx context.Context) error {
	return c.stop(ctx, true)
}

func (c *Controller) stop(ctx context.Context, quiet bool) error {
	c.mu.Lock()
	if c.status != StatusRunning && c.status != StatusStarting {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.transitionLocked(StatusStopping)
	cancel := c.detachTransportsLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.runWG.Wait()
	}

	err := c.client.Stop(ctx)
	if err != nil {
		logger.Warnf("engine stop returned error (going offline anyway): %v", err)
		if !quiet {
			c.notify(fmt.Sprintf("Stop request failed (%v); session marked offline.", err))
		}
	} else if !quiet {
		c.notify("Engine stopped.")
	}

	c.mu.Lock()
	c.transitionLocked(StatusOffline)
	c.mu.Unlock()
	return err
}

// Resync adopts the engine's view at boot. If the engine reports RUNNING,
// the session attaches its transports to the live bot instead of assuming
// the cached OFFLINE state; the local cache is never authoritative.
func (c *Controller) Resync(ctx context.Context) error {
	running, lines, err := c.client.Status(ctx)
	if err != nil {
		return fmt.Errorf("engine status resync failed: %w", err)
	}
	c.logs.SetLines(lines)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !running || c.status != StatusOffline {
		return nil
	}
	c.transitionLocked(StatusRunning)
	c.startTransportsLocked()
	logger.Infof("engine already running; session re-attached")
	return nil
}

// UpdatePosition pushes new SL/TP for one position. The local record is
// touched only after the engine confirms.
func (c *Controller) UpdatePosition(ctx context.Context, id string, sl, tp float64) error {
	if err := c.client.UpdateTrade(ctx, id, sl, tp); err != nil {
		c.notify(fmt.Sprintf("TP/SL update failed for %s: %v", id, err))
		return err
	}
	c.store.UpdateLevels(id, sl, tp)
	c.notify("TP/SL updated.")
	return nil
}

// ExitPosition force-exits one position. The record stays in the store
// until a snapshot or delta confirms the closure: the engine, not the
// client, is the authority on whether an exit filled.
func (c *Controller) ExitPosition(ctx context.Context, id string) error {
	if err := c.client.ExitTrade(ctx, id); err != nil {
		c.notify(fmt.Sprintf("Exit failed for %s: %v", id, err))
		return err
	}
	c.notify("Exit order sent.")
	return nil
}

// DismissPosition drops a stale tracking record without an exit order.
// The local record goes away even when the engine call fails: the record
// is stale either way.
func (c *Controller) DismissPosition(ctx context.Context, id string) error {
	err := c.client.DeleteActiveTrade(ctx, id)
	c.store.Remove(id)
	if err != nil {
		logger.Warnf("dismiss: engine delete failed for %s (record dropped locally): %v", id, err)
		c.notify("Position removed from dashboard (engine unreachable).")
		return nil
	}
	c.notify("Position dismissed; no exit order placed.")
	return nil
}

// ClearLogs hides the currently visible engine log lines.
func (c *Controller) ClearLogs() {
	c.logs.Clear()
}

// transitionLocked records a state change. Callers hold c.mu.
func (c *Controller) transitionLocked(to Status) {
	from := c.status
	if from == to {
		return
	}
	c.status = to
	logger.Infof("session %s -> %s", from, to)
	if c.OnTransition != nil {
		go c.OnTransition(from, to)
	}
}

// startTransportsLocked spins up the poll loop and, when configured, the
// tick stream for the current generation. Callers hold c.mu.
func (c *Controller) startTransportsLocked() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel

	c.runWG.Add(1)
	go func() {
		defer c.runWG.Done()
		c.pollLoop(ctx, gen)
	}()

	if c.stream != nil {
		ticks := make(chan Tick, 16)
		c.runWG.Add(1)
		go func() {
			defer c.runWG.Done()
			if err := c.stream(ctx, ticks); err != nil {
				// Poll remains the sole feed; no state transition.
				logger.Warnf("tick stream ended: %v", err)
			}
		}()
		c.runWG.Add(1)
		go func() {
			defer c.runWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case tick := <-ticks:
					c.applyTick(gen, tick)
				}
			}
		}()
	}
}

// detachTransportsLocked hands the cancel func to the caller and forgets
// it, so a second stop cannot double-cancel. Callers hold c.mu.
func (c *Controller) detachTransportsLocked() context.CancelFunc {
	cancel := c.runCancel
	c.runCancel = nil
	return cancel
}

// pollLoop fetches the authoritative snapshot, the aggregate P&L and the
// status/log feed at a fixed period. Failures are swallowed and retried
// next tick, unbounded; only the engine reporting itself stopped ends the
// session from here.
func (c *Controller) pollLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.pollOnce(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, gen)
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context, gen uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, c.pollInterval*3)
	defer cancel()

	if positions, dropped, err := c.client.Trades(reqCtx); err != nil {
		logger.Debugf("poll: trades fetch failed: %v", err)
	} else if c.genCurrent(gen) {
		if dropped > 0 {
			logger.Warnf("poll: %d trade records quarantined", dropped)
		}
		c.store.ApplySnapshot(positions)
	}

	if value, err := c.client.PnL(reqCtx); err != nil {
		logger.Debugf("poll: pnl fetch failed: %v", err)
	} else if c.genCurrent(gen) {
		c.pnl.Set(value)
	}

	running, lines, err := c.client.Status(reqCtx)
	if err != nil {
		logger.Debugf("poll: status fetch failed: %v", err)
		return
	}
	if !c.genCurrent(gen) {
		return
	}
	c.logs.SetLines(lines)
	if !running {
		// The engine stopped on its own (schedule end, crash, manual kill
		// on the server). Adopt its view; skip the redundant /stop call.
		logger.Warnf("engine reports stopped; taking session offline")
		go c.adoptRemoteStop(gen)
	}
}

// adoptRemoteStop moves the session OFFLINE after the engine reported
// itself stopped. Runs on its own goroutine: the poll goroutine cannot
// wait for a group it belongs to. Same ordering as stop: the session
// holds STOPPING until the old generation's goroutines are gone, so a
// restart accepted mid-teardown cannot reuse runWG while Wait is still
// blocked.
func (c *Controller) adoptRemoteStop(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.status != StatusRunning {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(StatusStopping)
	cancel := c.detachTransportsLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.runWG.Wait()
	}

	c.mu.Lock()
	c.transitionLocked(StatusOffline)
	c.mu.Unlock()
	c.notify("Engine stopped remotely; session is offline.")
}

// applyTick feeds one push event into the sinks, unless it is stale.
func (c *Controller) applyTick(gen uint64, tick Tick) {
	if !c.genCurrent(gen) {
		return
	}
	if tick.Trades != nil {
		c.store.ApplyDelta(tick.Trades)
	}
	if tick.PnL != nil {
		c.pnl.Set(*tick.PnL)
	}
}

// genCurrent reports whether results for gen may still be applied.
func (c *Controller) genCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.status == StatusRunning
}

func (c *Controller) notify(text string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.SendText(text); err != nil {
		logger.Warnf("session notify failed: %v", err)
	}
}

func normalizeConfig(cfg *Config) {
	cleaned := cfg.Symbols[:0]
	for _, s := range cfg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	cfg.Symbols = cleaned
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	cfg.Interval = strings.ToUpper(strings.TrimSpace(cfg.Interval))
}
