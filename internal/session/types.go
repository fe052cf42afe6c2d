package session

import (
	"strings"
	"time"
)

// Status is the lifecycle state of the live session.
type Status int

const (
	StatusOffline Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "OFFLINE"
	case StatusStarting:
		return "STARTING"
	case StatusRunning:
		return "RUNNING"
	case StatusStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Mode selects simulated or real-money trading. It may only change while
// the session is OFFLINE.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// ParseMode normalizes a user-supplied mode string.
func ParseMode(raw string) (Mode, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(ModePaper):
		return ModePaper, true
	case string(ModeLive):
		return ModeLive, true
	default:
		return "", false
	}
}

// Simulated reports whether orders placed in this mode are paper orders.
func (m Mode) Simulated() bool { return m != ModeLive }

// Side of a position.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position is one open (or recently closed) trade tracked by the session.
// ID is the merge key and is stable across updates; Symbol, Side and
// EntryPrice never change after creation. Quantity, TakeProfit, StopLoss,
// PnL and State are updated in place by the reconciler.
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	TakeProfit float64   `json:"take_profit"`
	StopLoss   float64   `json:"stop_loss"`
	PnL        float64   `json:"pnl"`
	State      string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Closed reports whether the engine marked this position as done.
func (p Position) Closed() bool {
	return strings.HasPrefix(p.State, "CLOSED") || p.State == "CANCELLED"
}

// Config holds the user-editable strategy parameters. Editable only while
// the session is OFFLINE; the controller rejects edits in any other state.
type Config struct {
	Symbols     []string `json:"symbols"`
	Strategy    string   `json:"strategy"`
	Interval    string   `json:"interval"`
	StartTime   string   `json:"start_time"`
	StopTime    string   `json:"stop_time"`
	Capital     float64  `json:"capital"`
	Credentials string   `json:"credentials"`
}

// GuardState is the safety-guard configuration plus its latch. Triggered
// never resets on its own; only an explicit disable/enable cycle clears it.
type GuardState struct {
	Enabled   bool    `json:"enabled"`
	MaxLoss   float64 `json:"max_loss"`
	Triggered bool    `json:"triggered"`
}

// LogEntry is one externally-sourced engine log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}
