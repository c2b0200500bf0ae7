// Package gateway is the websocket surface for browser UIs. The Hub turns
// bus events into sequenced envelopes, fans them out to connected clients
// and accepts control messages (symbol, interval and indicator toggles)
// from them.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
	"tradedash/internal/pipeline"
)

// Controller is the control surface driven by client messages.
type Controller interface {
	SwitchSymbol(ctx context.Context, symbol string) error
	SwitchInterval(ctx context.Context, interval string) error
	ToggleIndicator(ctx context.Context, name string, on bool) error
	Snapshot() *pipeline.Snapshot
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages WebSocket clients and event fan-out.
type Hub struct {
	control Controller

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	// Recent envelopes for reconnect backfill
	replay *ReplayBuffer

	// Event-to-emit latency
	Latency *LatencyTracker

	// OnClientCount is called with the number of clients after each change.
	OnClientCount func(n int)
}

// NewHub creates a new Hub. replaySize bounds the envelopes kept for
// clients reconnecting with last_seq.
func NewHub(control Controller, replaySize int) *Hub {
	return &Hub{
		control: control,
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
		Latency: NewLatencyTracker(10000),
	}
}

// Run broadcasts events from in until ctx is cancelled or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Broadcast sends ev to every client. A client whose send buffer is full
// misses the envelope and can recover it through replay on reconnect.
func (h *Hub) Broadcast(ev model.Event) {
	now := time.Now().UTC()
	if !ev.TS.IsZero() {
		if ms := float64(now.Sub(ev.TS).Microseconds()) / 1000.0; ms >= 0 {
			h.Latency.Record(ms)
		}
	}
	data := ev.JSON()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	// Hand-craft envelope JSON
	buf := make([]byte, 0, len(data)+64)
	buf = append(buf, `{"type":"event","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"event":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')

	h.replay.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- buf:
		default:
		}
	}
}

// ServeWS upgrades the request and registers the client. A last_seq query
// parameter replays buffered envelopes newer than it after the snapshot.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	var lastSeq int64
	if s := r.URL.Query().Get("last_seq"); s != "" {
		lastSeq, _ = strconv.ParseInt(s, 10, 64)
	}
	h.HandleWSRequest(conn, lastSeq)
}

// HandleWSRequest registers an upgraded connection.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastSeq int64) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	conn.EnableWriteCompression(true)

	// The initial state is queued before the client is visible to
	// Broadcast so it always precedes live envelopes.
	h.mu.Lock()
	client.sendInitialState(h.seq, lastSeq)
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Info().Int("clients", count).Str("remote", conn.RemoteAddr().String()).Msg("ws client connected")
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Replay returns buffered envelopes with seq in [fromSeq, toSeq].
func (h *Hub) Replay(fromSeq, toSeq int64) [][]byte {
	entries := h.replay.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// StartStatsBroadcast sends gateway stats to all WS clients every interval.
func (h *Hub) StartStatsBroadcast(ctx context.Context, interval time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p50, p95, p99 := h.Latency.Percentiles()
			envelope, _ := json.Marshal(statsMsg{
				Type:       msgStats,
				Clients:    h.ClientCount(),
				Seq:        h.Seq(),
				UptimeSec:  int64(time.Since(start).Seconds()),
				LatencyP50: p50,
				LatencyP95: p95,
				LatencyP99: p99,
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
