package execution

import (
	"cmp"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"tradedash/internal/model"
)

// PnLTracker tracks realized and unrealized P&L of filled orders, per
// symbol, with average-cost accounting. Sells beyond the open quantity are
// clipped; short positions are not tracked.
type PnLTracker struct {
	mu       sync.RWMutex
	fills    int
	realized decimal.Decimal
	basis    map[string]costEntry
}

type costEntry struct {
	Qty      decimal.Decimal
	AvgPrice decimal.Decimal
}

// Position is one open holding.
type Position struct {
	Symbol     string  `json:"symbol"`
	Qty        float64 `json:"qty"`
	AvgPrice   float64 `json:"avg_price"`
	LastPrice  float64 `json:"last_price,omitempty"`
	Unrealized float64 `json:"unrealized_pnl"`
}

// PnLSummary is the current P&L state.
type PnLSummary struct {
	RealizedPnL   float64    `json:"realized_pnl"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	TotalPnL      float64    `json:"total_pnl"`
	Fills         int        `json:"fills"`
	Positions     []Position `json:"positions"`
}

// NewPnLTracker creates an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{basis: make(map[string]costEntry)}
}

// Record applies a fill and returns the P&L it realized. Results without
// an executed quantity are ignored.
func (p *PnLTracker) Record(res model.OrderResult) decimal.Decimal {
	qty := decimal.NewFromFloat(res.ExecutedQty)
	price := decimal.NewFromFloat(res.AvgPrice)
	if !qty.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills++
	entry := p.basis[res.Symbol]

	var realized decimal.Decimal
	if res.Side == model.Buy {
		cost := entry.AvgPrice.Mul(entry.Qty).Add(price.Mul(qty))
		entry.Qty = entry.Qty.Add(qty)
		entry.AvgPrice = cost.Div(entry.Qty)
	} else {
		sold := decimal.Min(qty, entry.Qty)
		realized = price.Sub(entry.AvgPrice).Mul(sold)
		entry.Qty = entry.Qty.Sub(sold)
		if !entry.Qty.IsPositive() {
			entry = costEntry{}
		}
		p.realized = p.realized.Add(realized)
	}

	if entry.Qty.IsZero() {
		delete(p.basis, res.Symbol)
	} else {
		p.basis[res.Symbol] = entry
	}
	return realized
}

// Summary values open positions at prices. Symbols without a price count
// zero unrealized P&L.
func (p *PnLTracker) Summary(prices PriceSource) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := PnLSummary{Fills: p.fills, Positions: make([]Position, 0, len(p.basis))}
	unrealized := decimal.Zero
	for sym, e := range p.basis {
		pos := Position{Symbol: sym, Qty: e.Qty.InexactFloat64(), AvgPrice: e.AvgPrice.InexactFloat64()}
		if last, ok := prices(sym); ok && last > 0 {
			u := decimal.NewFromFloat(last).Sub(e.AvgPrice).Mul(e.Qty)
			unrealized = unrealized.Add(u)
			pos.LastPrice = last
			pos.Unrealized = u.InexactFloat64()
		}
		out.Positions = append(out.Positions, pos)
	}
	slices.SortFunc(out.Positions, func(a, b Position) int { return cmp.Compare(a.Symbol, b.Symbol) })
	out.RealizedPnL = p.realized.InexactFloat64()
	out.UnrealizedPnL = unrealized.InexactFloat64()
	out.TotalPnL = p.realized.Add(unrealized).InexactFloat64()
	return out
}
