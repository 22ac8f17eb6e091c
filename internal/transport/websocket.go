package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options tunes the WebSocket channel.
type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultOptions returns the timeouts used when an Options field is zero.
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// WSChannel is a Channel over a gorilla WebSocket connection.
type WSChannel struct {
	url  string
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewWSChannel creates a channel that dials the given ws:// or wss:// URL.
func NewWSChannel(url string, opts Options, log *slog.Logger) *WSChannel {
	return &WSChannel{url: url, opts: opts.withDefaults(), log: log}
}

// Dial opens the connection and starts the read and write pumps. The read
// pump is the single producer of sink callbacks, so handlers observe frames
// in wire order.
func (c *WSChannel) Dial(ctx context.Context, sink Sink) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(c.opts.MaxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, 64)
	c.done = make(chan struct{})
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.writePump(conn, send, done)
	go c.readPump(conn, sink)
	return nil
}

func (c *WSChannel) readPump(conn *websocket.Conn, sink Sink) {
	defer c.teardown(conn)

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("websocket read failed", "err", err)
			}
			sink.HandleDisconnected(err.Error())
			return
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		sink.HandleEvent(env.Type, data)
	}
}

func (c *WSChannel) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Emit marshals v and queues it for the write pump.
func (c *WSChannel) Emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	send, done := c.send, c.done
	c.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}

	select {
	case send <- data:
		return nil
	case <-done:
		return ErrNotConnected
	}
}

// Close tears down the current connection, if any.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// teardown clears connection state after the read pump exits. The write pump
// is stopped through the done channel.
func (c *WSChannel) teardown(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.send = nil
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()
}
