package engine

// Wire shapes of the engine's REST surface. Trade records are deliberately
// loose (map[string]any): the engine emits duck-typed JSON and field names
// drift between versions, so strict decoding happens in the mapper.

const statusSuccess = "success"

// StartRequest mirrors the engine's /start schema.
type StartRequest struct {
	Symbols     []string `json:"symbols"`
	Interval    string   `json:"interval"`
	StartTime   string   `json:"startTime"`
	StopTime    string   `json:"stopTime"`
	Capital     float64  `json:"capital"`
	Strategy    string   `json:"strategy"`
	Simulated   bool     `json:"simulated"`
	Credentials string   `json:"credentials,omitempty"`
}

// CommandResponse is the generic {status, message} envelope returned by
// every mutating endpoint.
type CommandResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the engine accepted the command.
func (r CommandResponse) OK() bool { return r.Status == statusSuccess }

// StatusResponse mirrors /status.
type StatusResponse struct {
	Status string   `json:"status"`
	Logs   []string `json:"logs,omitempty"`
}

// Running reports whether the engine considers itself live.
func (r StatusResponse) Running() bool { return r.Status == "RUNNING" }

// PnLResponse mirrors /pnl.
type PnLResponse struct {
	PnL float64 `json:"pnl"`
}

// TradesResponse mirrors /trades. Data entries stay untyped until the
// mapper validates them.
type TradesResponse struct {
	Status string           `json:"status"`
	Data   []map[string]any `json:"data"`
}

// UpdateTradeRequest mirrors /update_trade.
type UpdateTradeRequest struct {
	TradeID string  `json:"trade_id"`
	SL      float64 `json:"sl"`
	TP      float64 `json:"tp"`
}

// TradeIDRequest mirrors /exit_trade and /delete_active_trade.
type TradeIDRequest struct {
	TradeID string `json:"trade_id"`
}
