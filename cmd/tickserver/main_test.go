package main

import (
	"math/rand"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/marketdata/stream"
)

func TestTopicSymbol(t *testing.T) {
	sym, ok := topicSymbol("/ws/btcusdt@trade")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", sym)

	for _, p := range []string{"/ws/btcusdt@kline_1m", "/ws/@trade", "/btcusdt@trade"} {
		_, ok := topicSymbol(p)
		assert.False(t, ok, p)
	}
}

func TestParseInstruments(t *testing.T) {
	got := parseInstruments("btcusdt:65000, ETHUSDT:3200.5,bad,XRPUSDT:-1")
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.True(t, got[1].Price.Equal(decimal.RequireFromString("3200.5")))
}

func TestWalkPriceStaysPositive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := decimal.NewFromInt(100)
	for i := 0; i < 1000; i++ {
		p = walkPrice(rng, p)
		require.True(t, p.IsPositive())
	}
}

// Frames produced here must decode with the dashboard's stream codec.
func TestFrameDecodes(t *testing.T) {
	raw, err := json.Marshal(tradeMsg{
		EventType: "trade", EventTime: 1672515782136, Symbol: "BTCUSDT", TradeID: 1,
		Price: "65000.10", Quantity: "0.01200", TradeTime: 1672515782136, Ignore: true,
	})
	require.NoError(t, err)
	tick, err := stream.DecodeTrade(raw)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.InDelta(t, 65000.10, tick.Price, 1e-9)
}
