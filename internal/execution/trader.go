package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

// Publisher accepts outbound events. The event bus implements it.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Trader is the order entry point used by the API.
type Trader struct {
	placer  OrderPlacer
	guard   *Guard
	risk    *RiskManager
	journal *Journal // optional
	pnl     *PnLTracker
	pub     Publisher
	now     func() time.Time
}

// NewTrader wires the order path. journal may be nil.
func NewTrader(placer OrderPlacer, guard *Guard, risk *RiskManager, journal *Journal, pub Publisher) *Trader {
	return &Trader{
		placer:  placer,
		guard:   guard,
		risk:    risk,
		journal: journal,
		pnl:     NewPnLTracker(),
		pub:     pub,
		now:     time.Now,
	}
}

// Guard returns the trading guard.
func (t *Trader) Guard() *Guard { return t.guard }

// Risk returns the risk manager.
func (t *Trader) Risk() *RiskManager { return t.risk }

// PnL returns the fill-based P&L tracker.
func (t *Trader) PnL() *PnLTracker { return t.pnl }

// Journal returns the order journal, or nil.
func (t *Trader) Journal() *Journal { return t.journal }

// Submit checks the guard and risk limits, places the order, journals the
// attempt and publishes the result. The returned result is populated even
// when err is non-nil.
func (t *Trader) Submit(ctx context.Context, req OrderRequest) (model.OrderResult, error) {
	now := t.now()
	res, err := t.place(ctx, req, now)
	if err != nil {
		res.Status = "REJECTED"
		res.Error = err.Error()
		log.Warn().Err(err).Str("symbol", req.Symbol).Str("side", string(req.Side)).
			Str("qty", req.Quantity.String()).Msg("order rejected")
	} else {
		t.risk.Record(now)
		if realized := t.pnl.Record(res); !realized.IsZero() {
			log.Info().Str("symbol", res.Symbol).Str("realized", realized.StringFixed(2)).Msg("position reduced")
		}
	}

	if t.journal != nil {
		if jerr := t.journal.Record(res, now); jerr != nil {
			log.Error().Err(jerr).Str("client_order_id", res.ClientOrderID).Msg("journal write failed")
		}
	}

	ev := model.Event{Kind: model.KindOrder, Symbol: res.Symbol, TS: now, Order: &res}
	if perr := t.pub.Publish(ctx, ev); perr != nil && !errors.Is(perr, context.Canceled) {
		log.Error().Err(perr).Msg("publish order result failed")
	}
	return res, err
}

func (t *Trader) place(ctx context.Context, req OrderRequest, now time.Time) (model.OrderResult, error) {
	res := model.OrderResult{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity.InexactFloat64(),
	}
	if err := req.validate(); err != nil {
		return res, err
	}
	if !t.guard.Armed() {
		return res, model.ErrTradingDisarmed
	}
	if err := t.risk.Check(req.Quantity, now); err != nil {
		return res, err
	}
	return t.placer.Place(ctx, req)
}
