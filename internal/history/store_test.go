package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
)

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func collectKeys(seq func(func(int64, model.Candle) bool)) []int64 {
	var out []int64
	seq(func(k int64, _ model.Candle) bool {
		out = append(out, k)
		return true
	})
	return out
}

func TestStore_EvictionKeepsMostRecent(t *testing.T) {
	const capacity = 5
	s := New(capacity)
	for i := int64(0); i <= capacity; i++ {
		s.Insert(i*60_000, candle(float64(i)))
	}

	require.Equal(t, capacity, s.Len())
	assert.Equal(t, []int64{60_000, 120_000, 180_000, 240_000, 300_000}, s.Keys())
	_, ok := s.Get(0)
	assert.False(t, ok, "oldest key must be evicted")
	assert.Equal(t, uint64(1), s.Evicted())
}

func TestStore_OutOfOrderInsertStaysSorted(t *testing.T) {
	s := New(10)
	for _, k := range []int64{300, 100, 200, 500, 400} {
		s.Insert(k, candle(float64(k)))
	}
	assert.Equal(t, []int64{100, 200, 300, 400, 500}, s.Keys())
}

func TestStore_InsertOlderThanWindowWhenFull(t *testing.T) {
	s := New(3)
	s.Insert(200, candle(2))
	s.Insert(300, candle(3))
	s.Insert(400, candle(4))

	kept := s.Insert(100, candle(1))
	assert.False(t, kept)
	assert.Equal(t, []int64{200, 300, 400}, s.Keys())
}

func TestStore_OverwriteExistingKey(t *testing.T) {
	s := New(3)
	s.Insert(100, candle(1))
	s.Insert(200, candle(2))

	assert.True(t, s.Insert(100, candle(9)))
	c, ok := s.Get(100)
	require.True(t, ok)
	assert.Equal(t, 9.0, c.Close)
	assert.Equal(t, int64(100), c.TS)
	assert.Equal(t, 2, s.Len())
}

func TestStore_RangeInclusiveAscending(t *testing.T) {
	s := New(10)
	for k := int64(1); k <= 6; k++ {
		s.Insert(k*10, candle(float64(k)))
	}

	assert.Equal(t, []int64{20, 30, 40}, collectKeys(s.Range(15, 40)))
	assert.Equal(t, []int64{10}, collectKeys(s.Range(0, 10)))
	assert.Empty(t, collectKeys(s.Range(41, 49)))
	assert.Empty(t, collectKeys(s.Range(40, 20)))
}

func TestStore_LatestN(t *testing.T) {
	s := New(10)
	for k := int64(1); k <= 4; k++ {
		s.Insert(k, candle(float64(k)))
	}

	assert.Equal(t, []int64{3, 4}, collectKeys(s.LatestN(2)))
	assert.Equal(t, []int64{1, 2, 3, 4}, collectKeys(s.LatestN(100)))
	assert.Empty(t, collectKeys(s.LatestN(0)))

	var closes []float64
	for _, c := range s.LatestN(3) {
		closes = append(closes, c.Close)
		if len(closes) == 2 {
			break
		}
	}
	assert.Equal(t, []float64{2, 3}, closes)
}

func TestStore_LatestAndReset(t *testing.T) {
	s := New(4)
	_, _, ok := s.Latest()
	assert.False(t, ok)

	s.Insert(10, candle(1))
	s.Insert(20, candle(2))
	k, c, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(20), k)
	assert.Equal(t, 2.0, c.Close)

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 4, s.Cap())
	assert.Empty(t, s.Candles())
}

func TestStore_CandlesIsCopy(t *testing.T) {
	s := New(4)
	s.Insert(10, candle(1))
	cs := s.Candles()
	cs[0].Close = 99

	c, _ := s.Get(10)
	assert.Equal(t, 1.0, c.Close)
}
