// Package execution places market orders on behalf of the dashboard user.
//
// A Trader is the single entry point: it checks the trading guard and risk
// limits, hands the order to an OrderPlacer (the live exchange Executor or
// the PaperExecutor), journals every attempt and publishes the outcome as an
// order event.
package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradedash/internal/model"
)

// OrderRequest is a market order as submitted by the user.
type OrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (r OrderRequest) validate() error {
	if r.Symbol == "" {
		return model.ErrUnknownSymbol
	}
	if r.Side != model.Buy && r.Side != model.Sell {
		return fmt.Errorf("side %q: %w", r.Side, model.ErrOrderRejected)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("quantity %s must be positive: %w", r.Quantity, model.ErrRiskLimit)
	}
	return nil
}

// OrderPlacer executes a validated order.
type OrderPlacer interface {
	Place(ctx context.Context, req OrderRequest) (model.OrderResult, error)
}

// MarketOrderer is the exchange call used by the live executor.
type MarketOrderer interface {
	MarketOrder(ctx context.Context, symbol string, side model.Side, qty decimal.Decimal) (model.OrderResult, error)
}

// Executor places real orders through the exchange REST adapter.
type Executor struct {
	exchange MarketOrderer
}

// NewExecutor creates a live executor.
func NewExecutor(exchange MarketOrderer) *Executor {
	return &Executor{exchange: exchange}
}

// Place sends the order to the exchange. Rejections are not retried.
func (e *Executor) Place(ctx context.Context, req OrderRequest) (model.OrderResult, error) {
	res, err := e.exchange.MarketOrder(ctx, req.Symbol, req.Side, req.Quantity)
	res.Paper = false
	return res, err
}
