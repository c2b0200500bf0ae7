// cmd/tickserver — simulated Binance trade stream for staging.
//
// Serves /ws/<symbol>@trade with frames shaped like the exchange's trade
// events, so the dashboard can run without network access:
//
//	{"e":"trade","E":1672515782136,"s":"BTCUSDT","t":1,"p":"65000.10","q":"0.012","T":1672515782136,"m":false,"M":true}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR      — listen address (default: ":9001")
//	TICK_SYMBOLS          — comma-separated SYMBOL:PRICE pairs (default: "BTCUSDT:65000,ETHUSDT:3200")
//	TICK_INTERVAL_MS      — per-symbol trade interval in milliseconds (default: "100")
//	TICK_MALFORMED_EVERY  — emit a malformed frame every N trades, 0 disables (default: "0")
//
// POST /drop closes every open connection to exercise client reconnects.
package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tradedash/internal/logger"
)

// tradeMsg mirrors the exchange trade event.
type tradeMsg struct {
	EventType  string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"t"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
	Ignore     bool   `json:"M"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol  string
	Price   decimal.Decimal
	TradeID int64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*subscriber
}

type subscriber struct {
	symbol string
	ch     chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*subscriber)}
}

func (h *hub) register(conn *websocket.Conn, symbol string) chan []byte {
	s := &subscriber{symbol: symbol, ch: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = s
	h.mu.Unlock()
	return s.ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if s, ok := h.clients[conn]; ok {
		close(s.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.clients {
		if s.symbol != symbol {
			continue
		}
		select {
		case s.ch <- msg:
		default: // slow client, drop trade
		}
	}
}

// dropAll closes every connection; each handler then unregisters itself.
func (h *hub) dropAll() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.Close()
	}
	return len(h.clients)
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// topicSymbol extracts BTCUSDT from /ws/btcusdt@trade.
func topicSymbol(path string) (string, bool) {
	topic, ok := strings.CutPrefix(path, "/ws/")
	if !ok {
		return "", false
	}
	sym, ok := strings.CutSuffix(topic, "@trade")
	if !ok || sym == "" {
		return "", false
	}
	return strings.ToUpper(sym), true
}

func wsHandler(h *hub, known map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol, ok := topicSymbol(r.URL.Path)
		if !ok || !known[symbol] {
			http.Error(w, "unknown stream", http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade error")
			return
		}
		log.Info().Str("remote", r.RemoteAddr).Str("symbol", symbol).Msg("client connected")

		ch := h.register(conn, symbol)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")
		}()

		// Drain reads so pings are answered and closes are noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ─────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.05%) to simulate price movement.
func walkPrice(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat((rng.Float64()*0.1 - 0.05) / 100.0)
	next := price.Add(price.Mul(pct)).Round(2)
	if !next.IsPositive() {
		return decimal.NewFromFloat(0.01)
	}
	return next
}

func runGenerator(ctx context.Context, h *hub, instruments []instrument, interval time.Duration, malformedEvery int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var sent int

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := range instruments {
			in := &instruments[i]
			in.Price = walkPrice(rng, in.Price)
			in.TradeID++
			sent++

			if malformedEvery > 0 && sent%malformedEvery == 0 {
				h.broadcast(in.Symbol, []byte(`{"e":"trade","s":"`+in.Symbol+`","p":"not-a-price"}`))
				continue
			}

			now := time.Now().UnixMilli()
			b, err := json.Marshal(tradeMsg{
				EventType:  "trade",
				EventTime:  now,
				Symbol:     in.Symbol,
				TradeID:    in.TradeID,
				Price:      in.Price.StringFixed(2),
				Quantity:   decimal.NewFromFloat(rng.Float64() * 0.5).StringFixed(5),
				TradeTime:  now,
				BuyerMaker: rng.Intn(2) == 0,
				Ignore:     true,
			})
			if err != nil {
				continue
			}
			h.broadcast(in.Symbol, b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	logger.Init("tickserver", logger.ParseLevel(envOrDefault("LOG_LEVEL", "INFO")))

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("TICK_SYMBOLS", "BTCUSDT:65000,ETHUSDT:3200"))
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 100)) * time.Millisecond
	malformedEvery := envIntOrDefault("TICK_MALFORMED_EVERY", 0)
	if len(instruments) == 0 {
		log.Fatal().Msg("no instruments configured via TICK_SYMBOLS")
	}

	known := make(map[string]bool, len(instruments))
	for _, in := range instruments {
		known[in.Symbol] = true
		log.Info().Str("symbol", in.Symbol).Str("price", in.Price.String()).Msg("instrument")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := newHub()
	go runGenerator(ctx, h, instruments, interval, malformedEvery)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", wsHandler(h, known))
	mux.HandleFunc("/drop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		n := h.dropAll()
		log.Warn().Int("connections", n).Msg("dropped all connections")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tickserver"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Dur("interval", interval).Int("malformed_every", malformedEvery).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, ok := strings.Cut(part, ":")
		if !ok {
			log.Warn().Str("entry", part).Msg("skipping invalid symbol entry")
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(priceStr))
		if err != nil || !price.IsPositive() {
			log.Warn().Str("entry", part).Msg("skipping invalid start price")
			continue
		}
		result = append(result, instrument{
			Symbol: strings.ToUpper(strings.TrimSpace(sym)),
			Price:  price,
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
