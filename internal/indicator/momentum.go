package indicator

import (
	"math"

	"tradedash/internal/model"
)

const (
	momentumThresholdPct = 2.0
	volumeRatioThreshold = 1.2
)

// Momentum evaluates the momentum/volume rule on the newest candle.
//
//	momentum_pct = (close_now - close_period_ago) / close_period_ago * 100
//	volume_ratio = volume_now / mean(volume over the last period candles) * period
//
// It needs period+1 candles and a non-zero reference close.
func Momentum(candles []model.Candle, period int) (model.MomentumSignal, bool) {
	n := len(candles)
	if period < 1 || n < period+1 {
		return model.MomentumSignal{}, false
	}
	now := candles[n-1]
	ref := candles[n-1-period].Close
	if ref == 0 {
		return model.MomentumSignal{}, false
	}
	pct := (now.Close - ref) / ref * 100

	var vsum float64
	for _, c := range candles[n-period:] {
		vsum += c.Volume
	}
	var ratio float64
	if mean := vsum / float64(period); mean > 0 {
		ratio = now.Volume / mean * float64(period)
	}

	return EvaluateMomentum(pct, ratio), true
}

// EvaluateMomentum applies the buy/sell thresholds and strength formula.
// Buy fires when pct > 2 and ratio > 1.2; sell mirrors it for pct < -2.
// Strength is 0.5 + min(|pct|/10, 0.3) + min((ratio-1.2)/2, 0.2), capped at 1.
func EvaluateMomentum(pct, ratio float64) model.MomentumSignal {
	sig := model.MomentumSignal{
		Action:      model.ActionNone,
		MomentumPct: pct,
		VolumeRatio: ratio,
	}
	if ratio <= volumeRatioThreshold {
		return sig
	}
	switch {
	case pct > momentumThresholdPct:
		sig.Action = model.ActionBuy
	case pct < -momentumThresholdPct:
		sig.Action = model.ActionSell
	default:
		return sig
	}

	strength := 0.5 + math.Min(math.Abs(pct)/10, 0.3)
	strength += math.Min((ratio-volumeRatioThreshold)/2, 0.2)
	sig.Strength = math.Min(strength, 1.0)
	return sig
}
