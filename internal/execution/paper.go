package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// PriceSource returns the last traded price of a symbol.
type PriceSource func(symbol string) (float64, bool)

// Fill represents a simulated order fill.
type Fill struct {
	Result   model.OrderResult `json:"result"`
	Slippage float64           `json:"slippage"`
	FilledAt time.Time         `json:"filled_at"`
}

// PaperExecutor simulates market orders at the last traded price without
// calling the exchange.
type PaperExecutor struct {
	prices PriceSource

	mu       sync.RWMutex
	fills    []Fill
	orderSeq int64

	// basis points of slippage applied against the taker (5 = 0.05%)
	slippageBps int64
}

// NewPaperExecutor creates a paper trading executor.
func NewPaperExecutor(prices PriceSource, slippageBps int64) *PaperExecutor {
	return &PaperExecutor{
		prices:      prices,
		fills:       make([]Fill, 0, 64),
		slippageBps: slippageBps,
	}
}

// Place fills the whole quantity at the last price adjusted for slippage.
func (p *PaperExecutor) Place(_ context.Context, req OrderRequest) (model.OrderResult, error) {
	res := model.OrderResult{
		ClientOrderID: uuid.NewString(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity.InexactFloat64(),
		Paper:         true,
	}
	price, ok := p.prices(req.Symbol)
	if !ok || price <= 0 {
		res.Status = "REJECTED"
		err := fmt.Errorf("paper %s: no last price: %w", req.Symbol, model.ErrOrderRejected)
		res.Error = err.Error()
		return res, err
	}

	slippage := price * float64(p.slippageBps) / 10000
	if req.Side == model.Buy {
		price += slippage
	} else {
		price -= slippage
	}

	p.mu.Lock()
	p.orderSeq++
	res.OrderID = p.orderSeq
	res.Status = "FILLED"
	res.ExecutedQty = res.Quantity
	res.AvgPrice = price
	p.fills = append(p.fills, Fill{Result: res, Slippage: slippage, FilledAt: time.Now()})
	p.mu.Unlock()

	log.Info().Str("symbol", req.Symbol).Str("side", string(req.Side)).Float64("qty", res.Quantity).
		Float64("price", price).Float64("slippage", slippage).Int64("order_id", res.OrderID).Msg("paper fill")
	return res, nil
}

// Fills returns a snapshot of all fills.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
