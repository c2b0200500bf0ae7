package indicator

import (
	"math"

	"tradedash/internal/model"
)

// CalculateBands returns Bollinger bands over the last window closes.
// The standard deviation is the population one (divide by window).
// ok is false until window candles are available.
func CalculateBands(candles []model.Candle, window int, numStd float64) (model.Bands, bool) {
	if window < 1 || len(candles) < window {
		return model.Bands{}, false
	}
	tail := candles[len(candles)-window:]

	var sum float64
	for _, c := range tail {
		sum += c.Close
	}
	mid := sum / float64(window)

	var sq float64
	for _, c := range tail {
		d := c.Close - mid
		sq += d * d
	}
	sigma := math.Sqrt(sq / float64(window))

	return model.Bands{
		Upper: mid + numStd*sigma,
		Mid:   mid,
		Lower: mid - numStd*sigma,
	}, true
}
