// Package agg folds raw trade ticks into fixed-interval OHLCV candles and
// commits finished buckets into the rolling history.
package agg

import (
	"math"

	"tradedash/internal/history"
	"tradedash/internal/model"
)

// DropReason says why a tick was not folded into any candle.
type DropReason string

const (
	DropMalformed DropReason = "malformed"
	DropLate      DropReason = "late"   // older than in-progress, no history entry
	DropSymbol    DropReason = "symbol" // tick for a symbol other than the active one
)

// candleState holds the in-progress candle for the current bucket.
type candleState struct {
	bucket int64 // bucket start, unix ms
	candle model.Candle
}

// Aggregator builds candles for one symbol at one interval. It is owned by a
// single goroutine; Ingest, Reset and Seed must not be called concurrently.
type Aggregator struct {
	symbol     string
	intervalMs int64
	history    *history.Store
	cur        *candleState

	// Metrics hooks (optional, set externally)
	OnDroppedTick func(reason DropReason)
	OnAmended     func(model.CommittedCandle)
}

// New creates an Aggregator committing into h.
func New(symbol string, intervalMs int64, h *history.Store) *Aggregator {
	return &Aggregator{
		symbol:     symbol,
		intervalMs: intervalMs,
		history:    h,
	}
}

// Ingest folds one tick. When the tick opens a newer bucket the previous
// in-progress candle is committed to history and returned with ok=true.
//
// Ticks older than the in-progress bucket amend the history entry with the
// same key if one exists and are dropped otherwise. Malformed ticks are
// dropped without error.
func (a *Aggregator) Ingest(t model.Tick) (model.CommittedCandle, bool) {
	if !validTick(t) {
		a.drop(DropMalformed)
		return model.CommittedCandle{}, false
	}
	if t.Symbol != "" && t.Symbol != a.symbol {
		a.drop(DropSymbol)
		return model.CommittedCandle{}, false
	}

	bucket := model.BucketKey(t.EventTime, a.intervalMs)

	switch {
	case a.cur == nil:
		a.open(bucket, t)
		return model.CommittedCandle{}, false

	case bucket == a.cur.bucket:
		a.cur.candle.Fold(t.Price, t.Quantity)
		return model.CommittedCandle{}, false

	case bucket > a.cur.bucket:
		done := a.commit()
		a.open(bucket, t)
		return done, true

	default:
		a.amend(bucket, t)
		return model.CommittedCandle{}, false
	}
}

func (a *Aggregator) open(bucket int64, t model.Tick) {
	a.cur = &candleState{
		bucket: bucket,
		candle: model.NewCandle(bucket, t.Price, t.Quantity),
	}
}

func (a *Aggregator) commit() model.CommittedCandle {
	c := a.cur.candle
	a.history.Insert(a.cur.bucket, c)
	a.cur = nil
	return model.CommittedCandle{Symbol: a.symbol, Bucket: c.TS, Candle: c}
}

func (a *Aggregator) amend(bucket int64, t model.Tick) {
	c, ok := a.history.Get(bucket)
	if !ok {
		a.drop(DropLate)
		return
	}
	c.Fold(t.Price, t.Quantity)
	a.history.Insert(bucket, c)
	if a.OnAmended != nil {
		a.OnAmended(model.CommittedCandle{Symbol: a.symbol, Bucket: bucket, Candle: c})
	}
}

func (a *Aggregator) drop(reason DropReason) {
	if a.OnDroppedTick != nil {
		a.OnDroppedTick(reason)
	}
}

// Current returns a copy of the in-progress candle.
func (a *Aggregator) Current() (model.Candle, bool) {
	if a.cur == nil {
		return model.Candle{}, false
	}
	return a.cur.candle, true
}

// Reset discards the in-progress candle and retargets the aggregator.
// History is not touched; the caller owns it.
func (a *Aggregator) Reset(symbol string, intervalMs int64) {
	a.symbol = symbol
	a.intervalMs = intervalMs
	a.cur = nil
}

// Seed loads backfilled candles, oldest first. All but the newest go straight
// into history; the newest becomes the in-progress candle because the
// exchange reports the still-open bucket last.
func (a *Aggregator) Seed(candles []model.Candle) {
	if len(candles) == 0 {
		return
	}
	for _, c := range candles[:len(candles)-1] {
		a.history.Insert(model.BucketKey(c.TS, a.intervalMs), c)
	}
	last := candles[len(candles)-1]
	last.TS = model.BucketKey(last.TS, a.intervalMs)
	a.cur = &candleState{bucket: last.TS, candle: last}
}

// Symbol returns the active symbol.
func (a *Aggregator) Symbol() string { return a.symbol }

// IntervalMs returns the bucket width.
func (a *Aggregator) IntervalMs() int64 { return a.intervalMs }

func validTick(t model.Tick) bool {
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return false
	}
	if math.IsNaN(t.Quantity) || math.IsInf(t.Quantity, 0) || t.Quantity < 0 {
		return false
	}
	return true
}
