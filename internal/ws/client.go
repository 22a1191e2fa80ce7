package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
	sendBuffer   = 256
)

// Client is one authenticated websocket connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	username string
	hub      *Hub
	limiter  *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewClient builds a client. eventsPerSec <= 0 disables inbound limiting.
func NewClient(conn *websocket.Conn, username string, hub *Hub, eventsPerSec int) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if eventsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(eventsPerSec), eventsPerSec)
	}
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		username: username,
		hub:      hub,
		limiter:  limiter,
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Username() string { return c.username }

// Emit sends env to this connection only.
func (c *Client) Emit(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.hub.log.Errorw("encode frame", "type", env.Type, "error", err)
		return
	}
	if !c.enqueue(b) {
		c.hub.drop(c)
	}
}

// enqueue never blocks. It reports false when the buffer is full.
func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Run serves the connection until it closes. Events are dispatched one at a
// time in the order they were read.
func (c *Client) Run(ctx context.Context, r *Router) {
	go c.writePump()
	c.readPump(ctx, r)
}

func (c *Client) readPump(ctx context.Context, r *Router) {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Infow("connection closed unexpectedly", "client", c.id, "username", c.username, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		if !c.limiter.Allow() {
			c.Emit(errorEnvelope(codeRateLimited, "too many events, slow down", ""))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.Emit(errorEnvelope(codeValidation, "malformed frame", ""))
			continue
		}
		r.Dispatch(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close is safe to call more than once. The write pump sends the close
// frame once it drains the closed channel.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
