package session

import (
	"math"
	"sync"
)

// priceEpsilon is the absolute tolerance used when comparing floating
// price/P&L fields. Engine feeds round-trip through JSON floats, so tiny
// noise below a paisa must not count as a change.
const priceEpsilon = 0.01

// TradeStore holds the current set of open positions, keyed by position id.
// Two feeds write into it: the poll loop applies authoritative snapshots
// and the socket applies non-authoritative deltas. Either may arrive first
// or be reordered by network latency; the per-field merge converges to the
// same visible state regardless of order.
type TradeStore struct {
	mu        sync.Mutex
	byID      map[string]*Position
	order     []string
	version   uint64
	observers []func()
}

func NewTradeStore() *TradeStore {
	return &TradeStore{byID: make(map[string]*Position)}
}

// Subscribe registers an observer invoked after any merge that changed at
// least one field. Observers run outside the store lock.
func (s *TradeStore) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// ApplySnapshot reconciles an authoritative position list against the
// store. Ids absent from the snapshot are removed; ids present in both are
// merged field by field. Observers fire only when something changed.
func (s *TradeStore) ApplySnapshot(positions []Position) {
	s.mu.Lock()
	changed := false

	seen := make(map[string]bool, len(positions))
	for i := range positions {
		p := &positions[i]
		if p.ID == "" {
			continue
		}
		seen[p.ID] = true
		if s.upsertLocked(p) {
			changed = true
		}
	}

	// Snapshot is the only feed allowed to delete.
	kept := s.order[:0]
	for _, id := range s.order {
		if seen[id] {
			kept = append(kept, id)
			continue
		}
		delete(s.byID, id)
		changed = true
	}
	s.order = kept

	s.finishLocked(changed)
}

// ApplyDelta merges a partial update. Unknown ids are inserted, known ids
// are merged field by field, and nothing is ever removed: only a snapshot
// may declare a position gone.
func (s *TradeStore) ApplyDelta(positions []Position) {
	s.mu.Lock()
	changed := false
	for i := range positions {
		p := &positions[i]
		if p.ID == "" {
			continue
		}
		if s.upsertLocked(p) {
			changed = true
		}
	}
	s.finishLocked(changed)
}

// upsertLocked inserts incoming or merges it into the stored entry,
// returning true when any field actually changed.
func (s *TradeStore) upsertLocked(incoming *Position) bool {
	cur, ok := s.byID[incoming.ID]
	if !ok {
		cp := *incoming
		s.byID[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
		return true
	}
	return mergePosition(cur, incoming)
}

// mergePosition copies only the fields that differ, leaving the stored
// object untouched when nothing changed. Identity fields (id, symbol,
// side, entry price) are immutable after creation and never overwritten.
func mergePosition(cur, incoming *Position) bool {
	changed := false
	if incoming.Quantity != cur.Quantity {
		cur.Quantity = incoming.Quantity
		changed = true
	}
	if floatChanged(cur.TakeProfit, incoming.TakeProfit) {
		cur.TakeProfit = incoming.TakeProfit
		changed = true
	}
	if floatChanged(cur.StopLoss, incoming.StopLoss) {
		cur.StopLoss = incoming.StopLoss
		changed = true
	}
	if floatChanged(cur.PnL, incoming.PnL) {
		cur.PnL = incoming.PnL
		changed = true
	}
	if incoming.State != "" && incoming.State != cur.State {
		cur.State = incoming.State
		changed = true
	}
	if !incoming.Timestamp.IsZero() && !incoming.Timestamp.Equal(cur.Timestamp) {
		cur.Timestamp = incoming.Timestamp
		changed = true
	}
	return changed
}

func floatChanged(old, new float64) bool {
	return math.Abs(new-old) > priceEpsilon
}

func (s *TradeStore) finishLocked(changed bool) {
	var obs []func()
	if changed {
		s.version++
		obs = append(obs, s.observers...)
	}
	s.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

// Positions returns a copy of the current positions in stable order.
func (s *TradeStore) Positions() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// IDs returns the current position ids. Square-off operates on this frozen
// list, not on a live view.
func (s *TradeStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns the stored position for id, if any.
func (s *TradeStore) Get(id string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Remove drops a single tracking record without any engine call. Used by
// the dismiss flow, where the record is stale regardless of engine state.
func (s *TradeStore) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.finishLocked(ok)
	return ok
}

// UpdateLevels sets the stop-loss/take-profit of one position after the
// engine confirmed the change. A plain delta cannot carry this: it would
// drag zero values over the other mutable fields.
func (s *TradeStore) UpdateLevels(id string, sl, tp float64) bool {
	s.mu.Lock()
	p, ok := s.byID[id]
	changed := false
	if ok {
		if floatChanged(p.StopLoss, sl) {
			p.StopLoss = sl
			changed = true
		}
		if floatChanged(p.TakeProfit, tp) {
			p.TakeProfit = tp
			changed = true
		}
	}
	s.finishLocked(changed)
	return ok
}

// Len reports the number of tracked positions.
func (s *TradeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Version increments on every effective change; the dashboard socket uses
// it to skip redundant pushes.
func (s *TradeStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}
