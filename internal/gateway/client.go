package gateway

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	controlTimeout = 5 * time.Second
	maxReplay      = 200
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// sendInitialState queues the snapshot followed by any buffered envelopes
// newer than lastSeq. Called with hub.mu held.
func (c *Client) sendInitialState(seq, lastSeq int64) {
	snap, err := json.Marshal(snapshotMsg{Type: msgSnapshot, Seq: seq, Snapshot: c.hub.control.Snapshot()})
	if err == nil {
		c.send <- snap
	}
	if lastSeq <= 0 || lastSeq >= seq {
		return
	}
	from := max(lastSeq+1, seq-maxReplay+1)
	for _, e := range c.hub.replay.Range(from, seq) {
		select {
		case c.send <- e.Data:
		default:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Info().Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg controlMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(replyMsg{Type: msgError, Message: "invalid message: " + err.Error()})
			continue
		}
		c.handle(msg)
	}
}

// handle applies one control message and replies with ack or error.
func (c *Client) handle(msg controlMsg) {
	if msg.Type == msgPing {
		c.reply(replyMsg{Type: msgPong, ReqID: msg.ReqID, Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case msgSwitchSymbol:
		err = c.hub.control.SwitchSymbol(ctx, msg.Symbol)
	case msgSwitchInterval:
		err = c.hub.control.SwitchInterval(ctx, msg.Interval)
	case msgToggle:
		on := true
		if msg.Enabled != nil {
			on = *msg.Enabled
		}
		err = c.hub.control.ToggleIndicator(ctx, msg.Indicator, on)
	default:
		c.reply(replyMsg{Type: msgError, ReqID: msg.ReqID, Message: "unknown message type " + msg.Type})
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Msg("ws control rejected")
		c.reply(replyMsg{Type: msgError, ReqID: msg.ReqID, Message: err.Error()})
		return
	}
	log.Info().Str("type", msg.Type).Str("symbol", msg.Symbol).Str("interval", msg.Interval).
		Str("indicator", msg.Indicator).Msg("ws control applied")
	c.reply(replyMsg{Type: msgAck, ReqID: msg.ReqID})
}

// reply queues a direct response. It holds the hub read lock so the send
// channel cannot be closed underneath it.
func (c *Client) reply(m replyMsg) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
