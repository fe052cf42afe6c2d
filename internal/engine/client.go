package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mqconfig "merq/internal/config"
	"merq/internal/session"
)

// ErrEngineRejected marks a well-formed response whose status was not
// success. Callers distinguish it from transport failures when deciding
// what to surface.
var ErrEngineRejected = errors.New("engine rejected command")

// Client wraps the trading engine's REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	username   string
	password   string
	token      string
}

// NewClient constructs an engine client from configuration.
func NewClient(cfg mqconfig.EngineConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("engine.api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing engine.api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		username: strings.TrimSpace(cfg.Username),
		password: strings.TrimSpace(cfg.Password),
		token:    strings.TrimSpace(cfg.APIToken),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Start asks the engine to begin trading. A non-success status is
// returned as ErrEngineRejected with the engine message attached.
func (c *Client) Start(ctx context.Context, req StartRequest) error {
	var resp CommandResponse
	if err := c.doRequest(ctx, http.MethodPost, "/start", req, &resp); err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s", ErrEngineRejected, messageOr(resp.Message, "start failed"))
	}
	return nil
}

// Stop asks the engine to halt. Best-effort: the caller treats failure as
// non-fatal and moves the session OFFLINE regardless.
func (c *Client) Stop(ctx context.Context) error {
	var resp CommandResponse
	if err := c.doRequest(ctx, http.MethodPost, "/stop", struct{}{}, &resp); err != nil {
		return err
	}
	return nil
}

// Status fetches the engine state plus its recent log lines.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// PnL fetches the aggregate profit/loss.
func (c *Client) PnL(ctx context.Context) (float64, error) {
	var resp PnLResponse
	if err := c.doRequest(ctx, http.MethodGet, "/pnl", nil, &resp); err != nil {
		return 0, err
	}
	return resp.PnL, nil
}

// Trades fetches the authoritative open-position snapshot. Malformed
// records are quarantined by the mapper; the second return value counts
// them.
func (c *Client) Trades(ctx context.Context) ([]session.Position, int, error) {
	var resp TradesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/trades", nil, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Status != "" && resp.Status != statusSuccess {
		return nil, 0, fmt.Errorf("%w: trades status %q", ErrEngineRejected, resp.Status)
	}
	positions, dropped := MapTrades(resp.Data)
	return positions, dropped, nil
}

// UpdateTrade pushes new stop-loss/take-profit levels for one trade.
func (c *Client) UpdateTrade(ctx context.Context, tradeID string, sl, tp float64) error {
	var resp CommandResponse
	req := UpdateTradeRequest{TradeID: tradeID, SL: sl, TP: tp}
	if err := c.doRequest(ctx, http.MethodPost, "/update_trade", req, &resp); err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s", ErrEngineRejected, messageOr(resp.Message, "update failed"))
	}
	return nil
}

// ExitTrade issues a market square-off for one trade. Exit on an already
// closed trade is a soft error on the engine side.
func (c *Client) ExitTrade(ctx context.Context, tradeID string) error {
	var resp CommandResponse
	if err := c.doRequest(ctx, http.MethodPost, "/exit_trade", TradeIDRequest{TradeID: tradeID}, &resp); err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s", ErrEngineRejected, messageOr(resp.Message, "exit failed"))
	}
	return nil
}

// DeleteActiveTrade removes the engine's tracking record without placing
// an exit order.
func (c *Client) DeleteActiveTrade(ctx context.Context, tradeID string) error {
	var resp CommandResponse
	if err := c.doRequest(ctx, http.MethodPost, "/delete_active_trade", TradeIDRequest{TradeID: tradeID}, &resp); err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s", ErrEngineRejected, messageOr(resp.Message, "delete failed"))
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("engine client not initialized")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request failed: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("building request failed: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			return fmt.Errorf("engine returned %s", resp.Status)
		}
		return fmt.Errorf("engine returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding engine response failed: %w", err)
	}
	return nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("engine API URL not set")
	}
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.Fragment = ""
	return &base, nil
}

func messageOr(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}
