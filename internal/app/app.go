// Package app wires the configuration into a running dashboard: engine
// gateway, session controller, safety guard, persistence and the HTTP
// server, then supervises them as one unit.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	mqconfig "merq/internal/config"
	"merq/internal/engine"
	"merq/internal/logger"
	"merq/internal/notify"
	"merq/internal/server"
	"merq/internal/session"
	"merq/internal/store/journal"
	"merq/internal/store/prefs"
)

// App holds the assembled application.
type App struct {
	cfg        *mqconfig.Config
	controller *session.Controller
	server     *server.Server
	journal    *journal.Journal
}

// NewApp builds the full dependency graph from the configuration without
// starting anything.
func NewApp(cfg *mqconfig.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	notifier := buildNotifier(cfg.Notify)

	gateway, err := engine.NewGateway(cfg.Engine, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("engine gateway: %w", err)
	}

	store := session.NewTradeStore()
	pnl := session.NewPnLTracker()
	logs := session.NewLogFeed(cfg.Session.LogBuffer)

	var catalog *mqconfig.Catalog
	if cfg.Catalog.Path != "" {
		catalog, err = mqconfig.NewCatalog(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("strategy catalog: %w", err)
		}
	}

	opts := session.ControllerOptions{
		Client:       gateway,
		Stream:       gateway.Stream(),
		Store:        store,
		PnL:          pnl,
		Logs:         logs,
		Notifier:     notifier,
		PollInterval: time.Duration(cfg.Session.PollIntervalSeconds) * time.Second,
	}
	if catalog != nil {
		opts.ValidateStrategy = catalog.Validate
	}
	controller, err := session.NewController(opts)
	if err != nil {
		return nil, err
	}

	squareOff := session.NewSquareOff(
		gateway.ExitTrade,
		cfg.SquareOff.MaxInFlight,
		cfg.SquareOff.RetryPasses,
	)
	// StopQuiet, not Stop: a trip reports itself as one guard summary.
	guard := session.NewGuard(store, squareOff, controller.StopQuiet, notifier)
	pnl.Subscribe(guard.OnPnL)

	prefsStore, err := prefs.Open(cfg.Store.PrefsPath)
	if err != nil {
		return nil, fmt.Errorf("preference store: %w", err)
	}
	restorePrefs(controller, guard, prefsStore, cfg.Guard)

	jnl, err := journal.Open(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("audit journal: %w", err)
	}
	wireHooks(controller, guard, prefsStore, jnl)

	watchConfig(cfg, guard)

	srv, err := server.New(server.Deps{
		Addr:       cfg.App.HTTPAddr,
		Controller: controller,
		Store:      store,
		PnL:        pnl,
		Logs:       logs,
		Guard:      guard,
		SquareOff:  squareOff,
		Journal:    jnl,
		Catalog:    catalog,
		SaveGuard:  prefsStore.SaveGuard,
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard server: %w", err)
	}

	return &App{
		cfg:        cfg,
		controller: controller,
		server:     srv,
		journal:    jnl,
	}, nil
}

// restorePrefs seeds the controller and guard from the preference cache
// before the persistence hooks are attached, so restoring does not write
// back what was just read. The cache loses to the config file only when
// it does not exist yet.
func restorePrefs(ctl *session.Controller, guard *session.Guard, store *prefs.Store, fallback mqconfig.GuardConfig) {
	snap, found, err := store.Load()
	if err != nil {
		logger.Warnf("preference cache unreadable, starting from defaults: %v", err)
	}
	if !found || err != nil {
		guard.Restore(fallback.Enabled, fallback.MaxLoss)
		return
	}
	if err := ctl.SetConfig(snap.Config); err != nil {
		logger.Warnf("cached config rejected: %v", err)
	}
	if err := ctl.SetMode(snap.Mode); err != nil {
		logger.Warnf("cached mode rejected: %v", err)
	}
	maxLoss := snap.GuardMaxLoss
	if maxLoss <= 0 {
		maxLoss = fallback.MaxLoss
	}
	guard.Restore(snap.GuardEnabled, maxLoss)
}

// wireHooks attaches the preference cache and audit journal to the
// controller and guard lifecycle events.
func wireHooks(ctl *session.Controller, guard *session.Guard, store *prefs.Store, jnl *journal.Journal) {
	record := func(event string, detail map[string]any) {
		if err := jnl.Append(context.Background(), event, detail); err != nil {
			logger.Warnf("journal append failed: %v", err)
		}
	}

	ctl.OnTransition = func(from, to session.Status) {
		switch {
		case to == session.StatusRunning:
			record(journal.EventStarted, map[string]any{"mode": ctl.Mode()})
		case from == session.StatusStarting && to == session.StatusOffline:
			record(journal.EventStartFailed, nil)
		case from == session.StatusStopping && to == session.StatusOffline:
			record(journal.EventStopped, nil)
		}
	}
	ctl.OnModeChange = func(mode session.Mode) {
		if err := store.SaveMode(mode); err != nil {
			logger.Warnf("mode not cached: %v", err)
		}
		record(journal.EventModeChanged, map[string]any{"mode": mode})
	}
	ctl.OnConfigChange = func(cfg session.Config) {
		if err := store.SaveConfig(cfg); err != nil {
			logger.Warnf("config not cached: %v", err)
		}
	}
	guard.OnTrip = func(pnl float64, report session.SquareOffReport) {
		record(journal.EventGuardTripped, map[string]any{
			"pnl":       pnl,
			"targeted":  len(report.Outcomes),
			"succeeded": report.Succeeded(),
			"failed":    report.Failed(),
		})
	}
}

// watchConfig applies hot-safe edits of the config file while running:
// the log level always, the guard limit only while the guard is
// disarmed. The enabled flag is never hot-applied because re-enabling
// clears the trip latch; arming stays a dashboard action.
func watchConfig(cfg *mqconfig.Config, guard *session.Guard) {
	if cfg.Path == "" {
		return
	}
	err := mqconfig.Watch(cfg.Path, func(r mqconfig.Reloadable) {
		logger.SetLevel(r.LogLevel)
		if r.GuardMaxLoss > 0 {
			if err := guard.SetMaxLoss(r.GuardMaxLoss); err != nil {
				logger.Warnf("config reload: guard limit not applied: %v", err)
			}
		}
		logger.Infof("configuration reloaded from %s", cfg.Path)
	})
	if err != nil {
		logger.Warnf("config watch disabled: %v", err)
	}
}

func buildNotifier(cfg mqconfig.NotifyConfig) notify.TextNotifier {
	sinks := notify.Multi{notify.LogNotifier{}}
	if cfg.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	return sinks
}

// Run serves the dashboard until ctx is cancelled. The engine is
// re-queried once at startup so a bot that survived a dashboard restart
// is re-attached instead of presumed offline.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.journal.Close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.server.Run(ctx)
	})
	group.Go(func() error {
		if err := a.controller.Resync(ctx); err != nil {
			logger.Warnf("startup resync skipped: %v", err)
		}
		return nil
	})

	// The engine is deliberately left running on shutdown; a restarted
	// dashboard re-attaches to it through Resync.
	return group.Wait()
}
