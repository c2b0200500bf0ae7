package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
)

func TestCalculateBands_ConstantSeries(t *testing.T) {
	cs := series(42, 42, 42, 42, 42)
	for _, k := range []float64{0.5, 2, 3} {
		b, ok := CalculateBands(cs, 5, k)
		require.True(t, ok)
		assert.Equal(t, model.Bands{Upper: 42, Mid: 42, Lower: 42}, b)
	}
}

func TestCalculateBands_PopulationSigma(t *testing.T) {
	// closes 2,4,4,4,5,5,7,9: mean 5, population σ = 2
	cs := series(2, 4, 4, 4, 5, 5, 7, 9)
	b, ok := CalculateBands(cs, 8, 2)
	require.True(t, ok)
	assert.InDelta(t, 5.0, b.Mid, 1e-12)
	assert.InDelta(t, 9.0, b.Upper, 1e-12)
	assert.InDelta(t, 1.0, b.Lower, 1e-12)
}

func TestCalculateBands_UsesTrailingWindow(t *testing.T) {
	cs := series(1000, 10, 10, 10)
	b, ok := CalculateBands(cs, 3, 2)
	require.True(t, ok)
	assert.Equal(t, 10.0, b.Mid)
}

func TestCalculateBands_Insufficient(t *testing.T) {
	_, ok := CalculateBands(series(1, 2, 3), 4, 2)
	assert.False(t, ok)
}

func TestEvaluateMomentum(t *testing.T) {
	tests := []struct {
		name     string
		pct      float64
		ratio    float64
		action   model.SignalAction
		strength float64
	}{
		{"buy example", 3.0, 1.5, model.ActionBuy, 0.95},
		{"sell mirrored", -3.0, 1.5, model.ActionSell, 0.95},
		{"strength capped parts", 12, 5, model.ActionBuy, 1.0},
		{"volume too low", 5, 1.2, model.ActionNone, 0},
		{"momentum too small", 2.0, 3, model.ActionNone, 0},
		{"small buy", 2.5, 1.3, model.ActionBuy, 0.5 + 0.25 + 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := EvaluateMomentum(tt.pct, tt.ratio)
			assert.Equal(t, tt.action, sig.Action)
			assert.InDelta(t, tt.strength, sig.Strength, 1e-9)
			assert.LessOrEqual(t, sig.Strength, 1.0)
			assert.Equal(t, tt.pct, sig.MomentumPct)
			assert.Equal(t, tt.ratio, sig.VolumeRatio)
		})
	}
}

func TestMomentum_FromCandles(t *testing.T) {
	// period 2: ref close 100, now 103 → +3%
	// volumes over last 2 candles: 1, 2 → mean 1.5; ratio = 2/1.5*2 = 2.666...
	cs := series(100, 101, 103)
	cs[1].Volume = 1
	cs[2].Volume = 2

	sig, ok := Momentum(cs, 2)
	require.True(t, ok)
	assert.InDelta(t, 3.0, sig.MomentumPct, 1e-9)
	assert.InDelta(t, 2.0/1.5*2, sig.VolumeRatio, 1e-9)
	assert.Equal(t, model.ActionBuy, sig.Action)
	assert.InDelta(t, 0.5+0.3+0.2, sig.Strength, 1e-9)
}

func TestMomentum_Insufficient(t *testing.T) {
	_, ok := Momentum(series(1, 2), 2)
	assert.False(t, ok)

	_, ok = Momentum(series(0, 2, 3), 2)
	assert.False(t, ok, "zero reference close has no defined momentum")
}

func TestPredictor_EmptyBufferNoPrediction(t *testing.T) {
	p := NewPredictor(3, 10, 5, 2, 4, 3)
	_, ok := p.Predict(FeatureVector{0.1, 0.5, 1, 0})
	assert.False(t, ok)
}

func TestPredictor_MajorityVote(t *testing.T) {
	p := NewPredictor(3, 10, 5, 2, 4, 3)
	p.Train(FeatureVector{0, 0, 0, 0}, model.Up)
	p.Train(FeatureVector{0.1, 0, 0, 0}, model.Up)
	p.Train(FeatureVector{0.2, 0, 0, 0}, model.Down)
	p.Train(FeatureVector{5, 5, 5, 5}, model.Down)
	p.Train(FeatureVector{6, 6, 6, 6}, model.Down)

	dir, ok := p.Predict(FeatureVector{0.05, 0, 0, 0})
	require.True(t, ok)
	assert.Equal(t, model.Up, dir)

	dir, ok = p.Predict(FeatureVector{5.5, 5.5, 5.5, 5.5})
	require.True(t, ok)
	assert.Equal(t, model.Down, dir)
}

func TestPredictor_TieIsDown(t *testing.T) {
	p := NewPredictor(4, 10, 5, 2, 4, 3)
	p.Train(FeatureVector{1, 0, 0, 0}, model.Up)
	p.Train(FeatureVector{2, 0, 0, 0}, model.Up)
	p.Train(FeatureVector{3, 0, 0, 0}, model.Down)
	p.Train(FeatureVector{4, 0, 0, 0}, model.Down)

	dir, ok := p.Predict(FeatureVector{})
	require.True(t, ok)
	assert.Equal(t, model.Down, dir, "2 of 4 is not a strict majority")
}

func TestPredictor_KLargerThanBuffer(t *testing.T) {
	p := NewPredictor(5, 10, 5, 2, 4, 3)
	p.Train(FeatureVector{1, 0, 0, 0}, model.Up)

	dir, ok := p.Predict(FeatureVector{})
	require.True(t, ok)
	assert.Equal(t, model.Down, dir, "1 up vote is not more than half of k=5")

	p.Train(FeatureVector{2, 0, 0, 0}, model.Up)
	dir, _ = p.Predict(FeatureVector{})
	assert.Equal(t, model.Down, dir, "2 up votes are not more than half of k=5")

	p.Train(FeatureVector{3, 0, 0, 0}, model.Up)
	dir, _ = p.Predict(FeatureVector{})
	assert.Equal(t, model.Up, dir, "3 up votes out of k=5")
}

func TestPredictor_EqualDistanceKeepsBufferOrder(t *testing.T) {
	p := NewPredictor(1, 10, 5, 2, 4, 3)
	p.Train(FeatureVector{1, 0, 0, 0}, model.Up)
	p.Train(FeatureVector{-1, 0, 0, 0}, model.Down)

	dir, ok := p.Predict(FeatureVector{})
	require.True(t, ok)
	assert.Equal(t, model.Up, dir, "first buffered sample wins the tie")
}

func TestPredictor_FIFOEviction(t *testing.T) {
	p := NewPredictor(1, 2, 5, 2, 4, 3)
	p.Train(FeatureVector{0, 0, 0, 0}, model.Up)
	p.Train(FeatureVector{10, 0, 0, 0}, model.Down)
	p.Train(FeatureVector{20, 0, 0, 0}, model.Down)

	assert.Equal(t, 2, p.Len())
	dir, ok := p.Predict(FeatureVector{})
	require.True(t, ok)
	assert.Equal(t, model.Down, dir, "the Up sample at the origin was evicted")

	p.Reset()
	assert.Equal(t, 0, p.Len())
}

func TestPredictor_ExtractFeatures(t *testing.T) {
	p := NewPredictor(3, 10, 6, 2, 4, 3)

	_, ok := p.ExtractFeatures(series(1, 2, 3, 4, 5))
	assert.False(t, ok, "fewer than window candles")

	cs := series(10, 11, 12, 13, 14, 15)
	cs[5].Volume = 3 // others 1 → avg 8/6
	f, ok := p.ExtractFeatures(cs)
	require.True(t, ok)

	maShort := (14.0 + 15.0) / 2
	maLong := (12.0 + 13 + 14 + 15) / 4
	assert.InDelta(t, maShort/maLong-1, f[0], 1e-12)
	assert.InDelta(t, 1.0, f[1], 1e-12, "all gains → RSI 100")
	assert.InDelta(t, 3/(8.0/6), f[2], 1e-12)
	assert.InDelta(t, (15.0-14)/14*100/100, f[3], 1e-12)
}
