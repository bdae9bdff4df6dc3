package ordertracker

import (
	"context"
	"sort"
	"sync"

	"market_maker/internal/core"

	"github.com/shopspring/decimal"
)

// Tracker is the per-symbol append-only trade ledger, mirrored to one
// JSON file. All persistence happens on the engine's own loop
// goroutine, so there is no write-write race for a given symbol.
type Tracker struct {
	mu     sync.RWMutex
	path   string
	trades []core.Trade
	logger core.ILogger
}

// New constructs a Tracker for one symbol's ledger file and loads any
// existing history.
func New(path string, logger core.ILogger) (*Tracker, error) {
	t := &Tracker{path: path, logger: logger}
	var loaded []core.Trade
	found, err := ReadJSON(path, &loaded)
	if err != nil {
		return nil, err
	}
	if found {
		t.trades = loaded
	}
	return t, nil
}

// AddTrade appends a trade to the in-memory ledger and flushes.
func (t *Tracker) AddTrade(trade core.Trade) error {
	t.mu.Lock()
	t.trades = append(t.trades, trade)
	snapshot := make([]core.Trade, len(t.trades))
	copy(snapshot, t.trades)
	t.mu.Unlock()

	return AtomicWriteJSON(t.path, snapshot)
}

// GetTradeHistory returns a copy of the in-memory trade list.
func (t *Tracker) GetTradeHistory() []core.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Trade, len(t.trades))
	copy(out, t.trades)
	return out
}

// ReconcileFromVenue fetches recent fills from the venue, aggregates
// multi-fill partials by order_id into synthetic volume-weighted
// trades, and merge-overwrites the persisted ledger by order_id. This
// runs once at startup per symbol.
func (t *Tracker) ReconcileFromVenue(ctx context.Context, symbol core.SymbolId, source interface {
	FetchMyTrades(ctx context.Context, symbol core.SymbolId, limit int) ([]core.Trade, error)
}, limit int) error {
	fills, err := source.FetchMyTrades(ctx, symbol, limit)
	if err != nil {
		return err
	}
	aggregated := aggregateByOrderID(fills)

	t.mu.Lock()
	byOrderID := make(map[int64]int, len(t.trades))
	for i, tr := range t.trades {
		byOrderID[tr.OrderID] = i
	}
	for _, tr := range aggregated {
		if idx, ok := byOrderID[tr.OrderID]; ok {
			t.trades[idx] = tr
		} else {
			t.trades = append(t.trades, tr)
			byOrderID[tr.OrderID] = len(t.trades) - 1
		}
	}
	sort.Slice(t.trades, func(i, j int) bool { return t.trades[i].Timestamp.Before(t.trades[j].Timestamp) })
	snapshot := make([]core.Trade, len(t.trades))
	copy(snapshot, t.trades)
	t.mu.Unlock()

	return AtomicWriteJSON(t.path, snapshot)
}

// aggregateByOrderID merges multiple partial fills for the same
// order_id into one synthetic trade at the volume-weighted average
// price.
func aggregateByOrderID(fills []core.Trade) []core.Trade {
	byOrder := make(map[int64][]core.Trade)
	order := make([]int64, 0)
	for _, f := range fills {
		if _, seen := byOrder[f.OrderID]; !seen {
			order = append(order, f.OrderID)
		}
		byOrder[f.OrderID] = append(byOrder[f.OrderID], f)
	}

	out := make([]core.Trade, 0, len(order))
	for _, orderID := range order {
		parts := byOrder[orderID]
		if len(parts) == 1 {
			out = append(out, parts[0])
			continue
		}
		totalAmount := decimal.Zero
		totalNotional := decimal.Zero
		latest := parts[0]
		for _, p := range parts {
			totalAmount = totalAmount.Add(p.Amount)
			totalNotional = totalNotional.Add(p.Amount.Mul(p.Price))
			if p.Timestamp.After(latest.Timestamp) {
				latest = p
			}
		}
		avgPrice := decimal.Zero
		if totalAmount.IsPositive() {
			avgPrice = totalNotional.Div(totalAmount)
		}
		out = append(out, core.Trade{
			Timestamp:   latest.Timestamp,
			Side:        latest.Side,
			Price:       avgPrice,
			Amount:      totalAmount,
			OrderID:     orderID,
			StrategyTag: latest.StrategyTag,
		})
	}
	return out
}
