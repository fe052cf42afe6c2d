package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"merq/internal/logger"
	"merq/internal/session"
)

// TickEvent is one decoded tick_update push. PnL is nil when the frame
// carried no pnl field; Trades is nil when it carried no trades.
type TickEvent struct {
	PnL     *float64
	Trades  []session.Position
	Dropped int
}

// SocketConfig tunes the tick stream connection.
type SocketConfig struct {
	URL            string
	ReconnectMax   int
	InitialBackoff time.Duration
}

// Socket consumes the engine's push channel. It runs only while the
// session is RUNNING: the controller starts it on entering RUNNING and
// cancels its context on the way out. Reconnection is bounded; once the
// attempts are exhausted the poll loop remains the sole feed.
type Socket struct {
	url            string
	reconnectMax   int
	initialBackoff time.Duration
	dialer         *websocket.Dialer
}

const maxSocketBackoff = 30 * time.Second

// NewSocket validates the endpoint and builds the stream client.
func NewSocket(cfg SocketConfig) (*Socket, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, fmt.Errorf("socket URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing socket URL failed: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Socket{
		url:            u.String(),
		reconnectMax:   cfg.ReconnectMax,
		initialBackoff: cfg.InitialBackoff,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Run connects and pumps tick events into out until ctx is cancelled or
// the reconnect budget is spent. It returns nil on cancellation.
func (s *Socket) Run(ctx context.Context, out chan<- TickEvent) error {
	attempts := 0
	backoff := s.initialBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			attempts++
			if attempts >= s.reconnectMax {
				return fmt.Errorf("tick socket gave up after %d attempts: %w", attempts, err)
			}
			logger.Warnf("tick socket connect failed (attempt %d/%d), retrying in %s: %v", attempts, s.reconnectMax, backoff, err)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		logger.Infof("tick socket connected to %s", s.url)
		attempts = 0
		backoff = s.initialBackoff

		err = s.readLoop(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.Warnf("tick socket disconnected, reconnecting: %v", err)
	}
}

// readLoop pumps frames until the connection breaks or ctx is cancelled.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- TickEvent) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, ok := parseTickFrame(raw)
		if !ok {
			continue
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseTickFrame extracts pnl/trades from one frame. Frames may arrive
// bare ({pnl, trades}) or wrapped in an event envelope
// ({event: "tick_update", data: {...}}).
func parseTickFrame(raw []byte) (TickEvent, bool) {
	node := raw
	if env := gjson.GetBytes(raw, "data"); env.Exists() && env.IsObject() {
		if evt := gjson.GetBytes(raw, "event"); !evt.Exists() || evt.String() == "tick_update" {
			node = []byte(env.Raw)
		}
	}

	if err := validateTickFrame(node); err != nil {
		logger.Warnf("tick socket: dropped frame: %v", err)
		return TickEvent{}, false
	}

	var evt TickEvent
	if pnl := gjson.GetBytes(node, "pnl"); pnl.Exists() {
		v := pnl.Float()
		evt.PnL = &v
	}
	if trades := gjson.GetBytes(node, "trades"); trades.IsArray() {
		recs := make([]map[string]any, 0, len(trades.Array()))
		for _, item := range trades.Array() {
			if m, ok := item.Value().(map[string]any); ok {
				recs = append(recs, m)
			}
		}
		// MapTrades returns a non-nil slice, so an empty trades list is
		// still distinguishable from an absent trades field.
		evt.Trades, evt.Dropped = MapTrades(recs)
	}
	if evt.PnL == nil && evt.Trades == nil {
		return TickEvent{}, false
	}
	return evt, true
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxSocketBackoff {
		return maxSocketBackoff
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
