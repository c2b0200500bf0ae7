package model

import "math"

// Candle is an OHLCV summary of the trades inside one time bucket.
// Prices are float64 quote-asset units as reported by the exchange.
type Candle struct {
	TS     int64   `json:"ts"` // bucket start, unix milliseconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Trades int     `json:"trades"` // number of ticks folded in
}

// NewCandle opens a candle for bucket ts from a single trade.
func NewCandle(ts int64, price, qty float64) Candle {
	return Candle{
		TS:     ts,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: qty,
		Trades: 1,
	}
}

// Fold applies one trade to the candle. Open is never touched.
func (c *Candle) Fold(price, qty float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += qty
	c.Trades++
}

// Valid reports whether all fields are finite, non-negative and the
// high/low envelope contains open and close.
func (c Candle) Valid() bool {
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return c.High >= math.Max(c.Open, c.Close) && c.Low <= math.Min(c.Open, c.Close)
}

// CommittedCandle is a finalized candle handed out of the aggregator.
// It is a value type; consumers never share the aggregator's storage.
type CommittedCandle struct {
	Symbol string `json:"symbol"`
	Bucket int64  `json:"bucket_time"` // unix ms, same as Candle.TS
	Candle Candle `json:"candle"`
}
