package engine

import (
	"context"
	"time"

	mqconfig "merq/internal/config"
	"merq/internal/session"
)

// Gateway adapts the REST client and tick socket to the controller's
// EngineClient/StreamFunc surface.
type Gateway struct {
	client *Client
	socket *Socket
}

// NewGateway builds the gateway. The socket is optional: without a
// socket_url the controller runs on polling alone.
func NewGateway(cfg mqconfig.EngineConfig, sess mqconfig.SessionConfig) (*Gateway, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	g := &Gateway{client: client}
	if cfg.SocketURL != "" {
		socket, err := NewSocket(SocketConfig{
			URL:            cfg.SocketURL,
			ReconnectMax:   sess.SocketReconnectMax,
			InitialBackoff: time.Duration(sess.SocketBackoffSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		g.socket = socket
	}
	return g, nil
}

// Client exposes the underlying REST client (for the square-off exit func).
func (g *Gateway) Client() *Client { return g.client }

// Stream returns the controller stream func, or nil without a socket.
func (g *Gateway) Stream() session.StreamFunc {
	if g.socket == nil {
		return nil
	}
	return func(ctx context.Context, out chan<- session.Tick) error {
		inner := make(chan TickEvent, cap(out))
		done := make(chan error, 1)
		go func() {
			done <- g.socket.Run(ctx, inner)
		}()
		for {
			select {
			case err := <-done:
				return err
			case evt := <-inner:
				tick := session.Tick{PnL: evt.PnL, Trades: evt.Trades}
				select {
				case out <- tick:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// Start implements session.EngineClient by building the engine's start
// payload from the session config and mode.
func (g *Gateway) Start(ctx context.Context, cfg session.Config, mode session.Mode) error {
	return g.client.Start(ctx, StartRequest{
		Symbols:     cfg.Symbols,
		Interval:    cfg.Interval,
		StartTime:   cfg.StartTime,
		StopTime:    cfg.StopTime,
		Capital:     cfg.Capital,
		Strategy:    cfg.Strategy,
		Simulated:   mode.Simulated(),
		Credentials: cfg.Credentials,
	})
}

func (g *Gateway) Stop(ctx context.Context) error {
	return g.client.Stop(ctx)
}

func (g *Gateway) Status(ctx context.Context) (bool, []string, error) {
	resp, err := g.client.Status(ctx)
	if err != nil {
		return false, nil, err
	}
	return resp.Running(), resp.Logs, nil
}

func (g *Gateway) PnL(ctx context.Context) (float64, error) {
	return g.client.PnL(ctx)
}

func (g *Gateway) Trades(ctx context.Context) ([]session.Position, int, error) {
	return g.client.Trades(ctx)
}

func (g *Gateway) UpdateTrade(ctx context.Context, id string, sl, tp float64) error {
	return g.client.UpdateTrade(ctx, id, sl, tp)
}

func (g *Gateway) ExitTrade(ctx context.Context, id string) error {
	return g.client.ExitTrade(ctx, id)
}

func (g *Gateway) DeleteActiveTrade(ctx context.Context, id string) error {
	return g.client.DeleteActiveTrade(ctx, id)
}

var _ session.EngineClient = (*Gateway)(nil)
