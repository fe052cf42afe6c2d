package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"merq/internal/logger"
	"merq/internal/pkg/convert"
	"merq/internal/session"
)

// wireTrade collects every field alias the engine has been observed to
// send. The Python side emits "id" or "entry_order_id", "qty" or
// "quantity", "type" or "mode", short or long price names; one decode pass
// catches them all and the picker below resolves precedence.
type wireTrade struct {
	ID           any    `mapstructure:"id"`
	EntryOrderID any    `mapstructure:"entry_order_id"`
	Symbol       string `mapstructure:"symbol"`
	Type         string `mapstructure:"type"`
	Mode         string `mapstructure:"mode"`
	Side         string `mapstructure:"side"`
	Qty          any    `mapstructure:"qty"`
	Quantity     any    `mapstructure:"quantity"`
	Entry        any    `mapstructure:"entry"`
	EntryPrice   any    `mapstructure:"entry_price"`
	TP           any    `mapstructure:"tp"`
	TakeProfit   any    `mapstructure:"take_profit"`
	SL           any    `mapstructure:"sl"`
	StopLoss     any    `mapstructure:"stop_loss"`
	PnL          any    `mapstructure:"pnl"`
	Status       string `mapstructure:"status"`
	Timestamp    string `mapstructure:"timestamp"`
	Time         string `mapstructure:"time"`
}

var tradeTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"15:04:05",
}

// MapTrade validates one loose trade record into a Position. Records
// without a usable id or symbol, or with non-finite money fields, are
// rejected so NaN never reaches the P&L math.
func MapTrade(rec map[string]any) (session.Position, error) {
	var w wireTrade
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &w,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return session.Position{}, err
	}
	if err := dec.Decode(rec); err != nil {
		return session.Position{}, fmt.Errorf("undecodable trade record: %w", err)
	}

	id := convert.ToString(w.ID)
	if id == "" {
		id = convert.ToString(w.EntryOrderID)
	}
	if id == "" {
		return session.Position{}, fmt.Errorf("trade record has no id")
	}

	symbol := strings.ToUpper(strings.TrimSpace(w.Symbol))
	if symbol == "" {
		return session.Position{}, fmt.Errorf("trade %s has no symbol", id)
	}

	pnl, err := convert.ToFloat64Strict(firstNonNil(w.PnL, 0.0))
	if err != nil {
		return session.Position{}, fmt.Errorf("trade %s has invalid pnl: %w", id, err)
	}
	entry, err := convert.ToFloat64Strict(firstNonNil(w.Entry, w.EntryPrice, 0.0))
	if err != nil {
		return session.Position{}, fmt.Errorf("trade %s has invalid entry price: %w", id, err)
	}

	qty := convert.ToInt(firstNonNil(w.Qty, w.Quantity, 0))
	if qty < 0 {
		return session.Position{}, fmt.Errorf("trade %s has negative quantity %d", id, qty)
	}

	side := strings.ToUpper(strings.TrimSpace(firstNonEmpty(w.Side, w.Type, w.Mode)))
	if side != session.SideSell {
		side = session.SideBuy
	}

	state := strings.ToUpper(strings.TrimSpace(w.Status))
	if state == "" {
		state = "OPEN"
	}

	return session.Position{
		ID:         id,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		TakeProfit: convert.ToFloat64(firstNonNil(w.TP, w.TakeProfit, 0.0)),
		StopLoss:   convert.ToFloat64(firstNonNil(w.SL, w.StopLoss, 0.0)),
		PnL:        pnl,
		State:      state,
		Timestamp:  parseTradeTime(firstNonEmpty(w.Timestamp, w.Time)),
	}, nil
}

// MapTrades maps a batch, quarantining invalid records instead of failing
// the whole feed. Returns the valid positions and the drop count.
func MapTrades(recs []map[string]any) ([]session.Position, int) {
	out := make([]session.Position, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		p, err := MapTrade(rec)
		if err != nil {
			dropped++
			logger.Warnf("engine: quarantined trade record: %v", err)
			continue
		}
		out = append(out, p)
	}
	return out, dropped
}

func parseTradeTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range tradeTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
