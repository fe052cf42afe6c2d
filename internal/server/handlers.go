package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"merq/internal/logger"
	"merq/internal/session"
	"merq/internal/store/journal"
)

func (s *Server) handleSession(c *gin.Context) {
	ctl := s.deps.Controller
	c.JSON(http.StatusOK, gin.H{
		"status": ctl.Status().String(),
		"mode":   ctl.Mode(),
		"config": ctl.Config(),
	})
}

func (s *Server) handleStart(c *gin.Context) {
	err := s.deps.Controller.Start(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": s.deps.Controller.Status().String()})
	case errors.Is(err, session.ErrNoSymbols), errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrAlreadyRunning):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleStop(c *gin.Context) {
	err := s.deps.Controller.Stop(c.Request.Context())
	if errors.Is(err, session.ErrNotRunning) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// A failed engine stop still lands the session OFFLINE; report the
	// resulting state rather than an error the user cannot act on.
	c.JSON(http.StatusOK, gin.H{"status": s.deps.Controller.Status().String()})
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, ok := session.ParseMode(req.Mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be PAPER or LIVE"})
		return
	}
	if err := s.deps.Controller.SetMode(mode); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

func (s *Server) handleSetConfig(c *gin.Context) {
	var cfg session.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Controller.SetConfig(cfg); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": s.deps.Controller.Config()})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.deps.Store.Positions()})
}

func (s *Server) handleSquareOffAll(c *gin.Context) {
	ids := s.deps.Store.IDs()
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"targeted": 0, "failed": []string{}})
		return
	}
	report := s.deps.SquareOff.Run(c.Request.Context(), ids)
	failed := report.Failed()
	if failed == nil {
		failed = []string{}
	}
	s.journalEvent(c, journal.EventSquareOff, map[string]any{
		"targeted": len(ids),
		"failed":   failed,
		"source":   "manual",
	})
	c.JSON(http.StatusOK, gin.H{
		"targeted":  len(ids),
		"succeeded": report.Succeeded(),
		"failed":    failed,
	})
}

func (s *Server) handleExit(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Controller.ExitPosition(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "exit sent"})
}

func (s *Server) handleDismiss(c *gin.Context) {
	id := c.Param("id")
	_ = s.deps.Controller.DismissPosition(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

func (s *Server) handleUpdateLevels(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		SL float64 `json:"sl"`
		TP float64 `json:"tp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Controller.UpdatePosition(c.Request.Context(), id, req.SL, req.TP); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) handlePnL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pnl": s.deps.PnL.Value()})
}

func (s *Server) handleGuard(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Guard.State())
}

func (s *Server) handleSetGuard(c *gin.Context) {
	var req struct {
		Enabled *bool    `json:"enabled"`
		MaxLoss *float64 `json:"max_loss"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxLoss != nil {
		if err := s.deps.Guard.SetMaxLoss(*req.MaxLoss); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Enabled != nil {
		s.deps.Guard.SetEnabled(*req.Enabled)
	}
	state := s.deps.Guard.State()
	if s.deps.SaveGuard != nil {
		if err := s.deps.SaveGuard(state.Enabled, state.MaxLoss); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleLogs(c *gin.Context) {
	entries := s.deps.Logs.Entries()
	if entries == nil {
		entries = []session.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

func (s *Server) handleClearLogs(c *gin.Context) {
	s.deps.Controller.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		c.JSON(http.StatusOK, gin.H{"events": []any{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.deps.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}

func (s *Server) handleStrategies(c *gin.Context) {
	if s.deps.Catalog == nil {
		c.JSON(http.StatusOK, gin.H{"strategies": []any{}})
		return
	}
	snap := s.deps.Catalog.Snapshot()
	out := make([]any, 0, len(snap.Strategies))
	for _, id := range s.deps.Catalog.IDs() {
		out = append(out, snap.Strategies[id])
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *Server) journalEvent(c *gin.Context, event string, detail map[string]any) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.Append(c.Request.Context(), event, detail); err != nil {
		logger.Warnf("journal append failed: %v", err)
	}
}
