package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandle_FoldKeepsOpen(t *testing.T) {
	c := NewCandle(60_000, 100, 1)
	c.Fold(105, 2)
	c.Fold(95, 0.5)
	c.Fold(101, 1)

	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 105.0, c.High)
	assert.Equal(t, 95.0, c.Low)
	assert.Equal(t, 101.0, c.Close)
	assert.InDelta(t, 4.5, c.Volume, 1e-12)
	assert.Equal(t, 4, c.Trades)
	assert.True(t, c.Valid())
}

func TestCandle_Valid(t *testing.T) {
	tests := []struct {
		name string
		c    Candle
		want bool
	}{
		{"ok", Candle{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3}, true},
		{"high below close", Candle{Open: 1, High: 1.2, Low: 0.5, Close: 1.5}, false},
		{"low above open", Candle{Open: 1, High: 2, Low: 1.1, Close: 1.5}, false},
		{"negative volume", Candle{Open: 1, High: 1, Low: 1, Close: 1, Volume: -1}, false},
		{"nan", Candle{Open: math.NaN(), High: 1, Low: 1, Close: 1}, false},
		{"inf", Candle{Open: 1, High: math.Inf(1), Low: 1, Close: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Valid())
		})
	}
}

func TestIntervalMillis(t *testing.T) {
	ms, err := IntervalMillis("15m")
	require.NoError(t, err)
	assert.Equal(t, int64(900_000), ms)

	_, err = IntervalMillis("7m")
	assert.Error(t, err)
}

func TestBucketKey(t *testing.T) {
	assert.Equal(t, int64(60_000), BucketKey(119_999, 60_000))
	assert.Equal(t, int64(120_000), BucketKey(120_000, 60_000))
	assert.Equal(t, int64(0), BucketKey(59_999, 60_000))
	assert.Equal(t, int64(-60_000), BucketKey(-1, 60_000))
}

func TestDirection_MarshalText(t *testing.T) {
	b, err := Up.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "up", string(b))
	assert.Equal(t, "down", Down.String())
}

func TestEvent_JSON(t *testing.T) {
	ev := Event{Kind: KindPrice, Symbol: "BTCUSDT", Price: &PriceUpdate{Symbol: "BTCUSDT", Price: 42000.5, PercentChange: 1.25}}
	s := string(ev.JSON())
	assert.Contains(t, s, `"kind":"price"`)
	assert.Contains(t, s, `"percent_change":1.25`)
	assert.NotContains(t, s, `"candle"`)
}
