// Package indicator provides technical indicator calculations over candle data.
//
// Streaming indicators implement the Indicator interface and are fed one
// committed candle at a time. The package-level functions (MovingAverage,
// RSI, CalculateBands, Momentum) are pure functions over an ordered candle
// slice and are what the orchestrator calls on every commit. Insufficient
// history is reported as an absent value, never as an error.
package indicator

import "tradedash/internal/model"

// Indicator is the interface for streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "RSI").
	Name() string

	// Update feeds a new committed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if a candle with this close price
	// were added next, WITHOUT mutating internal state.
	// Used for live values from the in-progress candle.
	Peek(close float64) float64
}

// feed runs ind over candles and collects a point for every candle after
// which the indicator is ready.
func feed(ind Indicator, candles []model.Candle) Series {
	pts := make([]model.Point, 0, len(candles))
	for _, c := range candles {
		ind.Update(c)
		if ind.Ready() {
			pts = append(pts, model.Point{TS: c.TS, Value: ind.Value()})
		}
	}
	return Series{points: pts}
}
