package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
	"tradedash/internal/pipeline"
)

type fakeControl struct {
	mu       sync.Mutex
	symbol   string
	interval string
	toggles  map[string]bool
}

func newFakeControl() *fakeControl {
	return &fakeControl{symbol: "BTCUSDT", interval: "1m", toggles: map[string]bool{}}
}

func (f *fakeControl) SwitchSymbol(_ context.Context, symbol string) error {
	if symbol == "" {
		return model.ErrUnknownSymbol
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbol = symbol
	return nil
}

func (f *fakeControl) SwitchInterval(_ context.Context, interval string) error {
	if _, err := model.IntervalMillis(interval); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = interval
	return nil
}

func (f *fakeControl) ToggleIndicator(_ context.Context, name string, on bool) error {
	if name == "nope" {
		return errors.New("unknown indicator")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles[name] = on
	return nil
}

func (f *fakeControl) Snapshot() *pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &pipeline.Snapshot{Symbol: f.symbol, Interval: f.interval, State: "connected"}
}

// wsReader splits coalesced frames into individual messages.
type wsReader struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

func (r *wsReader) next() map[string]any {
	r.t.Helper()
	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, frame, err := r.conn.ReadMessage()
		require.NoError(r.t, err)
		r.pending = bytes.Split(frame, []byte{'\n'})
	}
	raw := r.pending[0]
	r.pending = r.pending[1:]
	var m map[string]any
	require.NoError(r.t, json.Unmarshal(raw, &m))
	return m
}

// nextOfType skips messages until one of the given type arrives.
func (r *wsReader) nextOfType(typ string) map[string]any {
	r.t.Helper()
	for i := 0; i < 50; i++ {
		if m := r.next(); m["type"] == typ {
			return m
		}
	}
	r.t.Fatalf("no %s message", typ)
	return nil
}

func startHub(t *testing.T) (*Hub, *fakeControl, *httptest.Server) {
	t.Helper()
	ctrl := newFakeControl()
	hub := NewHub(ctrl, 100)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, ctrl, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *wsReader {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsReader{t: t, conn: conn}
}

func priceEvent(price float64) model.Event {
	return model.Event{
		Kind:   model.KindPrice,
		Symbol: "BTCUSDT",
		TS:     time.Now().UTC(),
		Price:  &model.PriceUpdate{Symbol: "BTCUSDT", Price: price},
	}
}

func TestHub_SnapshotFirstThenEvents(t *testing.T) {
	hub, _, srv := startHub(t)
	r := dial(t, srv, "")

	snap := r.next()
	assert.Equal(t, msgSnapshot, snap["type"])
	assert.Equal(t, "BTCUSDT", snap["snapshot"].(map[string]any)["symbol"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	hub.Broadcast(priceEvent(101.5))

	ev := r.nextOfType("event")
	assert.EqualValues(t, 1, ev["seq"])
	payload := ev["event"].(map[string]any)
	assert.Equal(t, "price", payload["kind"])
	assert.Equal(t, 1, hub.Latency.Count())
}

func TestHub_AmendmentKeepsItsKind(t *testing.T) {
	hub, _, srv := startHub(t)
	r := dial(t, srv, "")
	assert.Equal(t, msgSnapshot, r.next()["type"])
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	c := &model.CommittedCandle{Symbol: "BTCUSDT", Bucket: 60_000, Candle: model.Candle{TS: 60_000, Close: 100}}
	hub.Broadcast(model.Event{Kind: model.KindCandle, Symbol: "BTCUSDT", Candle: c})
	hub.Broadcast(model.Event{Kind: model.KindCandleAmended, Symbol: "BTCUSDT", Candle: c})

	var kinds []any
	for i := 0; i < 2; i++ {
		ev := r.nextOfType("event")
		payload := ev["event"].(map[string]any)
		assert.EqualValues(t, 60_000, payload["candle"].(map[string]any)["bucket_time"])
		kinds = append(kinds, payload["kind"])
	}
	assert.Equal(t, []any{"candle", "candle_amended"}, kinds)
}

func TestHub_ReplayAfterLastSeq(t *testing.T) {
	hub, _, srv := startHub(t)
	for i := 1; i <= 5; i++ {
		hub.Broadcast(priceEvent(float64(100 + i)))
	}
	require.Len(t, hub.Replay(1, 5), 5)

	r := dial(t, srv, "?last_seq=3")
	assert.Equal(t, msgSnapshot, r.next()["type"])
	assert.EqualValues(t, 4, r.next()["seq"])
	assert.EqualValues(t, 5, r.next()["seq"])
}

func TestHub_ControlMessages(t *testing.T) {
	_, ctrl, srv := startHub(t)
	r := dial(t, srv, "")
	r.nextOfType(msgSnapshot)

	send := func(v any) {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, r.conn.WriteMessage(websocket.TextMessage, b))
	}

	send(map[string]any{"type": msgSwitchSymbol, "req_id": "a", "symbol": "ETHUSDT"})
	ack := r.nextOfType(msgAck)
	assert.Equal(t, "a", ack["req_id"])

	send(map[string]any{"type": msgSwitchInterval, "req_id": "b", "interval": "7m"})
	nack := r.nextOfType(msgError)
	assert.Equal(t, "b", nack["req_id"])

	send(map[string]any{"type": msgToggle, "req_id": "c", "indicator": "rsi", "enabled": false})
	assert.Equal(t, "c", r.nextOfType(msgAck)["req_id"])

	send(map[string]any{"type": msgPing, "req_id": "d", "ping": 42})
	pong := r.nextOfType(msgPong)
	assert.EqualValues(t, 42, pong["ping"])

	send(map[string]any{"type": "BOGUS", "req_id": "e"})
	assert.Equal(t, "e", r.nextOfType(msgError)["req_id"])

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.Equal(t, "ETHUSDT", ctrl.symbol)
	assert.Equal(t, "1m", ctrl.interval)
	assert.Equal(t, map[string]bool{"rsi": false}, ctrl.toggles)
}

func TestHub_ClientCountHook(t *testing.T) {
	hub, _, srv := startHub(t)
	var mu sync.Mutex
	var counts []int
	hub.OnClientCount = func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}

	r := dial(t, srv, "")
	r.nextOfType(msgSnapshot)
	r.conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0}, counts)
}

func TestHub_RunStopsOnClosedChannel(t *testing.T) {
	hub := NewHub(newFakeControl(), 10)
	in := make(chan model.Event, 2)
	in <- priceEvent(1)
	in <- priceEvent(2)
	close(in)

	hub.Run(context.Background(), in)
	assert.EqualValues(t, 2, hub.Seq())
}
