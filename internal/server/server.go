// Package server exposes the dashboard API the browser UI consumes:
// session control, live positions, P&L, engine logs and the safety guard,
// plus a websocket push mirroring the live feeds.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	mqconfig "merq/internal/config"
	"merq/internal/logger"
	"merq/internal/session"
	"merq/internal/store/journal"
)

// Deps collects the server's collaborators.
type Deps struct {
	Addr       string
	Controller *session.Controller
	Store      *session.TradeStore
	PnL        *session.PnLTracker
	Logs       *session.LogFeed
	Guard      *session.Guard
	SquareOff  *session.SquareOff
	Journal    *journal.Journal
	Catalog    *mqconfig.Catalog
	// SaveGuard persists the guard settings after an accepted update.
	SaveGuard func(enabled bool, maxLoss float64) error
}

// Server is the dashboard HTTP/WebSocket server.
type Server struct {
	addr   string
	router *gin.Engine
	deps   Deps
	hub    *wsHub
}

// New wires the routes and the websocket hub.
func New(deps Deps) (*Server, error) {
	if deps.Controller == nil || deps.Store == nil || deps.PnL == nil {
		return nil, errors.New("dashboard server requires controller, store and pnl tracker")
	}
	if deps.Addr == "" {
		deps.Addr = ":9921"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:   deps.Addr,
		router: router,
		deps:   deps,
		hub:    newWSHub(),
	}
	s.registerRoutes()
	s.wireFeeds()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/ws", s.handleWS)

	api := s.router.Group("/api")
	api.GET("/session", s.handleSession)
	api.POST("/session/start", s.handleStart)
	api.POST("/session/stop", s.handleStop)
	api.POST("/session/mode", s.handleSetMode)
	api.PUT("/session/config", s.handleSetConfig)

	api.GET("/positions", s.handlePositions)
	api.POST("/positions/squareoff", s.handleSquareOffAll)
	api.POST("/positions/:id/exit", s.handleExit)
	api.POST("/positions/:id/dismiss", s.handleDismiss)
	api.POST("/positions/:id/levels", s.handleUpdateLevels)

	api.GET("/pnl", s.handlePnL)
	api.GET("/guard", s.handleGuard)
	api.POST("/guard", s.handleSetGuard)
	api.GET("/logs", s.handleLogs)
	api.POST("/logs/clear", s.handleClearLogs)
	api.GET("/journal", s.handleJournal)
	api.GET("/strategies", s.handleStrategies)
}

// wireFeeds forwards trade-store and P&L changes to the websocket hub.
func (s *Server) wireFeeds() {
	s.deps.Store.Subscribe(func() {
		s.hub.broadcast(s.buildTickPayload())
	})
	s.deps.PnL.Subscribe(func(float64) {
		s.hub.broadcast(s.buildTickPayload())
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("dashboard server listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d dur=%s", method, path, c.Writer.Status(), time.Since(start))
	}
}
