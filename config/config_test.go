package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	t.Setenv("SYMBOL", "ethusdt")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, "1m", cfg.Interval)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 500, cfg.HistorySize)
	assert.Equal(t, 14, cfg.RSIPeriod)
	assert.True(t, cfg.PaperTrading)
	assert.False(t, cfg.HasCredentials())
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	t.Setenv("INTERVAL", "5m")
	t.Setenv("RECONNECT_DELAY", "250ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.HasCredentials())
	assert.Equal(t, "5m", cfg.Interval)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestLoad_CollectsErrors(t *testing.T) {
	t.Setenv("INTERVAL", "7m")
	t.Setenv("RSI_PERIOD", "abc")
	t.Setenv("MA_SHORT_PERIOD", "30")
	t.Setenv("BINANCE_API_KEY", "only-key")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "INTERVAL")
	assert.Contains(t, msg, "RSI_PERIOD")
	assert.Contains(t, msg, "MA_SHORT_PERIOD must be less than MA_LONG_PERIOD")
	assert.Contains(t, msg, "must be set together")
}
