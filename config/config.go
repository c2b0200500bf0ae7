package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"tradedash/internal/logger"
	"tradedash/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Binance credentials. Both are optional; without them order execution
	// and account polling are disabled while market data keeps streaming.
	BinanceAPIKey    string
	BinanceAPISecret string

	// Endpoints
	RESTBaseURL   string
	StreamBaseURL string

	// Market
	Symbol          string
	Interval        string // exchange interval code, e.g. "1m"
	HistorySize     int
	BackfillLimit   int
	ReconnectDelay  time.Duration
	EventBufferSize int

	// Indicators
	MAShortPeriod   int
	MALongPeriod    int
	RSIPeriod       int
	BollingerWindow int
	BollingerStdDev float64
	MomentumPeriod  int
	KNNNeighbours   int
	KNNCapacity     int
	KNNWindow       int

	// Execution
	PaperTrading        bool
	TradingTOTPSecret   string
	MaxOrderQty         float64
	MaxOrdersPerDay     int
	AccountPollInterval time.Duration
	JournalPath         string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	HTTPAddr      string
	MetricsAddr   string
	LogLevel      zerolog.Level

	// Alerts
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// HasCredentials reports whether both Binance API key and secret are set.
func (c *Config) HasCredentials() bool {
	return c.BinanceAPIKey != "" && c.BinanceAPISecret != ""
}

// Load reads configuration from a .env file (if present) and the environment.
// All validation failures are collected and returned together.
func Load() (*Config, error) {
	// A missing .env is fine; plain env vars still apply.
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),

		RESTBaseURL:   getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		StreamBaseURL: getEnv("BINANCE_STREAM_URL", "wss://stream.binance.com:9443"),

		Symbol:   strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		Interval: getEnv("INTERVAL", "1m"),

		BollingerStdDev: getEnvAsFloat("BOLLINGER_STDDEV", 2.0),

		PaperTrading:      getEnvAsBool("PAPER_TRADING", true),
		TradingTOTPSecret: getEnv("TRADING_TOTP_SECRET", ""),
		MaxOrderQty:       getEnvAsFloat("MAX_ORDER_QTY", 0.01),
		JournalPath:       getEnv("JOURNAL_PATH", "data/journal.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      logger.ParseLevel(getEnv("LOG_LEVEL", "INFO")),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
	}

	positive := func(dst *int, key string, def int) {
		v, err := getEnvAsIntRequired(key, def)
		switch {
		case err != nil:
			errs = append(errs, err)
		case v <= 0:
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		default:
			*dst = v
		}
	}
	positive(&cfg.HistorySize, "HISTORY_SIZE", 500)
	positive(&cfg.BackfillLimit, "BACKFILL_LIMIT", 500)
	positive(&cfg.EventBufferSize, "EVENT_BUFFER_SIZE", 1024)
	positive(&cfg.MAShortPeriod, "MA_SHORT_PERIOD", 7)
	positive(&cfg.MALongPeriod, "MA_LONG_PERIOD", 25)
	positive(&cfg.RSIPeriod, "RSI_PERIOD", 14)
	positive(&cfg.BollingerWindow, "BOLLINGER_WINDOW", 20)
	positive(&cfg.MomentumPeriod, "MOMENTUM_PERIOD", 10)
	positive(&cfg.KNNNeighbours, "KNN_NEIGHBOURS", 5)
	positive(&cfg.KNNCapacity, "KNN_CAPACITY", 500)
	positive(&cfg.KNNWindow, "KNN_WINDOW", 30)
	positive(&cfg.MaxOrdersPerDay, "MAX_ORDERS_PER_DAY", 20)

	var err error
	if cfg.ReconnectDelay, err = getEnvAsDuration("RECONNECT_DELAY", 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.AccountPollInterval, err = getEnvAsDuration("ACCOUNT_POLL_INTERVAL", 10*time.Second); err != nil {
		errs = append(errs, err)
	}

	if cfg.Symbol == "" {
		errs = append(errs, errors.New("SYMBOL must be set"))
	}
	if _, err := model.IntervalMillis(cfg.Interval); err != nil {
		errs = append(errs, fmt.Errorf("INTERVAL: %w", err))
	}
	if cfg.MAShortPeriod >= cfg.MALongPeriod {
		errs = append(errs, errors.New("MA_SHORT_PERIOD must be less than MA_LONG_PERIOD"))
	}
	if cfg.KNNWindow < cfg.MALongPeriod || cfg.KNNWindow <= cfg.RSIPeriod {
		errs = append(errs, errors.New("KNN_WINDOW must cover MA_LONG_PERIOD and exceed RSI_PERIOD"))
	}
	if cfg.BollingerStdDev <= 0 {
		errs = append(errs, errors.New("BOLLINGER_STDDEV must be positive"))
	}
	if cfg.MaxOrderQty <= 0 {
		errs = append(errs, errors.New("MAX_ORDER_QTY must be positive"))
	}
	if (cfg.BinanceAPIKey == "") != (cfg.BinanceAPISecret == "") {
		errs = append(errs, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET must be set together"))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvAsIntRequired(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q for key %s: %w", v, key, err)
	}
	return n, nil
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q for key %s: %w", v, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
