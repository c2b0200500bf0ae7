package redis

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

const (
	keyPrefix        = "tradedash"
	candleStreamLen  = 5000
	defaultLatestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// MaxRetries per command; -1 disables retries. Zero uses the client default.
	MaxRetries  int
	DialTimeout time.Duration
}

// Writer mirrors outbound events into Redis: every event is published on
// its pub/sub channel, non-price events also refresh the latest hash and
// committed candles are appended to a capped stream.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	w := NewUnchecked(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.Ping(ctx).Err(); err != nil {
		w.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return w, nil
}

// NewUnchecked creates a Writer without contacting the server. Writes fail
// until Redis becomes reachable.
func NewUnchecked(cfg WriterConfig) *Writer {
	return &Writer{client: goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})}
}

// ChannelName is the pub/sub channel for events of kind on symbol.
func ChannelName(kind model.EventKind, symbol string) string {
	return keyPrefix + ":" + string(kind) + ":" + keySymbol(symbol)
}

// LatestKey is the hash holding the newest event JSON per kind for symbol.
func LatestKey(symbol string) string {
	return keyPrefix + ":latest:" + keySymbol(symbol)
}

// CandleStreamKey is the capped stream of committed candles for symbol.
func CandleStreamKey(symbol string) string {
	return keyPrefix + ":candles:" + keySymbol(symbol)
}

func keySymbol(symbol string) string {
	if symbol == "" {
		return "global"
	}
	return symbol
}

// write performs the pipelined writes for one event.
func (w *Writer) write(ctx context.Context, ev model.Event) error {
	jsonBytes := ev.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
	channel := ChannelName(ev.Kind, ev.Symbol)

	// Prices are high-rate and ephemeral: PubSub only.
	if ev.Kind == model.KindPrice {
		return w.client.Publish(ctx, channel, jsonData).Err()
	}

	pipe := w.client.Pipeline()
	if appendsToStream(ev.Kind) {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: CandleStreamKey(ev.Symbol),
			MaxLen: candleStreamLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
	}
	latest := LatestKey(ev.Symbol)
	pipe.HSet(ctx, latest, string(ev.Kind), jsonData)
	pipe.Expire(ctx, latest, defaultLatestTTL)
	pipe.Publish(ctx, channel, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s %s: %w", ev.Kind, ev.Symbol, err)
	}
	return nil
}

// appendsToStream reports whether events of kind k get a candle stream
// entry. Only commits do: an amendment revises a bucket that already has
// one and reaches subscribers through pub/sub and the latest hash.
func appendsToStream(k model.EventKind) bool {
	return k == model.KindCandle
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
