// Package stream owns the exchange trade-stream connection: dialing, the
// reconnect/backoff state machine and the symbol-switch protocol.
//
// The manager reads frames on a per-session goroutine and multiplexes them
// against a dedicated switch channel. A pending switch is always checked
// before the next frame is taken, so no stale-symbol tick is forwarded once a
// switch has been observed.
package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tradedash/internal/model"
)

const (
	defaultBackoff     = 5 * time.Second
	defaultDialTimeout = 10 * time.Second
	defaultPingPeriod  = 20 * time.Second
	defaultReadLimit   = 1 << 20 // 1MB
	frameBuffer        = 256
)

// Config holds configuration for the stream manager.
type Config struct {
	// BaseURL of the exchange stream host, e.g. "wss://stream.binance.com:9443".
	BaseURL string

	// Symbol subscribed on startup, e.g. "BTCUSDT".
	Symbol string

	// Backoff is the fixed delay between reconnect attempts. Defaults to 5s.
	// There is no retry cap.
	Backoff time.Duration

	// DialTimeout bounds the websocket handshake. Defaults to 10s.
	DialTimeout time.Duration

	// PingPeriod is the keepalive ping interval. The read deadline is twice
	// this value. Defaults to 20s.
	PingPeriod time.Duration
}

func (c *Config) defaults() {
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = defaultPingPeriod
	}
}

// Manager runs the connection state machine. Create with New, start with Run.
type Manager struct {
	cfg      Config
	dialer   *websocket.Dialer
	switchCh chan string
	state    atomic.Int32
	symbol   atomic.Value // string

	// Optional hooks (metrics).
	OnReconnect func()
	OnMalformed func()
}

// New validates cfg and creates a Manager.
func New(cfg Config) (*Manager, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("stream base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stream base url: unsupported scheme %q", u.Scheme)
	}
	sym, err := normalizeSymbol(cfg.Symbol)
	if err != nil {
		return nil, err
	}
	cfg.Symbol = sym

	m := &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.DialTimeout,
		},
		switchCh: make(chan string, 8),
	}
	m.symbol.Store(sym)
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Symbol returns the symbol of the current (or pending) subscription.
func (m *Manager) Symbol() string { return m.symbol.Load().(string) }

// RequestSwitch asks the manager to resubscribe to symbol. It returns once
// the request is queued; the switch itself is observed by Run as a
// MsgSwitched message.
func (m *Manager) RequestSwitch(ctx context.Context, symbol string) error {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	select {
	case m.switchCh <- sym:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// session is one live subscription. It is never reused: a switch or a
// transport error discards it and the next attempt builds a new one.
type session struct {
	symbol  string
	attempt int
	conn    *websocket.Conn
	frames  chan frame
	done    chan struct{}
}

type frame struct {
	data []byte
	err  error
}

// outcome is why a receive loop ended.
type outcome struct {
	switchTo string
	err      error
}

// Run drives the state machine until ctx is cancelled, forwarding ticks and
// lifecycle messages to out. Sends to out block (back-pressure) but honour
// ctx. Run returns nil on cancellation.
func (m *Manager) Run(ctx context.Context, out chan<- Message) error {
	symbol := m.cfg.Symbol
	attempt := 0
	defer m.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if next, ok := m.pendingSwitch(); ok && next != symbol {
			symbol = next
			if !m.announceSwitch(ctx, out, symbol) {
				return nil
			}
		}

		attempt++
		if !m.transition(ctx, out, Connecting, attempt) {
			return nil
		}
		sess, err := m.connect(ctx, symbol, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			next, ok := m.fail(ctx, out, symbol, attempt, err)
			if !ok {
				return nil
			}
			if next != symbol {
				symbol = next
				attempt = 0
				if !m.announceSwitch(ctx, out, symbol) {
					return nil
				}
			}
			continue
		}

		attempt = 0
		if !m.transition(ctx, out, Connected, 0) {
			sess.close()
			return nil
		}
		log.Info().Str("symbol", symbol).Str("remote", sess.conn.RemoteAddr().String()).Msg("stream connected")

		res := m.receive(ctx, sess, out)
		sess.close()

		switch {
		case ctx.Err() != nil:
			return nil

		case res.switchTo != "":
			log.Info().Str("from", symbol).Str("to", res.switchTo).Msg("stream resubscribing")
			if !m.transition(ctx, out, Resubscribing, 0) {
				return nil
			}
			symbol = res.switchTo
			if !m.announceSwitch(ctx, out, symbol) {
				return nil
			}

		default:
			if m.OnReconnect != nil {
				m.OnReconnect()
			}
			next, ok := m.fail(ctx, out, symbol, attempt, res.err)
			if !ok {
				return nil
			}
			if next != symbol {
				symbol = next
				if !m.announceSwitch(ctx, out, symbol) {
					return nil
				}
			}
		}
	}
}

// fail reports a transport error once, moves to Disconnected and waits out
// the backoff. A switch request ends the wait early and is returned.
func (m *Manager) fail(ctx context.Context, out chan<- Message, symbol string, attempt int, err error) (string, bool) {
	log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).
		Dur("backoff", m.cfg.Backoff).Msg("stream disconnected, reconnecting")

	if !m.send(ctx, out, Message{Kind: MsgError, Symbol: symbol, Err: fmt.Errorf("stream %s: %w", symbol, err), Attempt: attempt}) {
		return "", false
	}
	if !m.transition(ctx, out, Disconnected, attempt) {
		return "", false
	}

	timer := time.NewTimer(m.cfg.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", false
	case next := <-m.switchCh:
		return m.latest(next), true
	case <-timer.C:
		return symbol, true
	}
}

func (m *Manager) connect(ctx context.Context, symbol string, attempt int) (*session, error) {
	endpoint := TopicURL(m.cfg.BaseURL, symbol)
	conn, _, err := m.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	conn.SetReadLimit(defaultReadLimit)
	readWait := m.cfg.PingPeriod * 2
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	s := &session{
		symbol:  symbol,
		attempt: attempt,
		conn:    conn,
		frames:  make(chan frame, frameBuffer),
		done:    make(chan struct{}),
	}
	go s.readLoop(readWait)
	go s.pingLoop(m.cfg.PingPeriod)
	return s, nil
}

// receive forwards ticks until the session fails, a switch arrives or ctx
// is cancelled.
func (m *Manager) receive(ctx context.Context, s *session, out chan<- Message) outcome {
	for {
		// A queued switch wins over any frame that is already buffered.
		select {
		case next := <-m.switchCh:
			return outcome{switchTo: m.latest(next)}
		default:
		}

		select {
		case <-ctx.Done():
			return outcome{err: ctx.Err()}

		case next := <-m.switchCh:
			return outcome{switchTo: m.latest(next)}

		case f := <-s.frames:
			if f.err != nil {
				return outcome{err: f.err}
			}
			tick, err := DecodeTrade(f.data)
			if err != nil {
				if m.OnMalformed != nil {
					m.OnMalformed()
				}
				log.Debug().Err(err).Str("symbol", s.symbol).Msg("skipping malformed frame")
				continue
			}
			if tick.Symbol != s.symbol {
				continue
			}
			if !m.send(ctx, out, Message{Kind: MsgTick, Symbol: s.symbol, Tick: tick}) {
				return outcome{err: ctx.Err()}
			}
		}
	}
}

// pendingSwitch drains queued switch requests without blocking.
func (m *Manager) pendingSwitch() (string, bool) {
	select {
	case next := <-m.switchCh:
		return m.latest(next), true
	default:
		return "", false
	}
}

// latest coalesces queued switch requests so only the newest is honoured.
func (m *Manager) latest(sym string) string {
	for {
		select {
		case next := <-m.switchCh:
			sym = next
		default:
			return sym
		}
	}
}

func (m *Manager) announceSwitch(ctx context.Context, out chan<- Message, symbol string) bool {
	m.symbol.Store(symbol)
	return m.send(ctx, out, Message{Kind: MsgSwitched, Symbol: symbol})
}

func (m *Manager) transition(ctx context.Context, out chan<- Message, st State, attempt int) bool {
	m.setState(st)
	return m.send(ctx, out, Message{Kind: MsgState, Symbol: m.Symbol(), State: st, Attempt: attempt})
}

func (m *Manager) setState(st State) { m.state.Store(int32(st)) }

func (m *Manager) send(ctx context.Context, out chan<- Message, msg Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *session) readLoop(readWait time.Duration) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err == nil {
			_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		}
		select {
		case s.frames <- frame{data: raw, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *session) close() {
	close(s.done)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	_ = s.conn.Close()
}

func normalizeSymbol(sym string) (string, error) {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if len(sym) < 2 || len(sym) > 20 {
		return "", fmt.Errorf("%w: %q", model.ErrUnknownSymbol, sym)
	}
	for _, r := range sym {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", model.ErrUnknownSymbol, sym)
		}
	}
	return sym, nil
}
