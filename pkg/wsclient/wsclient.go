package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrAlreadyRunning = errors.New("client is already running")
	ErrNotConnected   = errors.New("client is not connected")
)

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HandlerFunc func(ctx context.Context, payload json.RawMessage)

// ConnState is passed to the state callback on every connect and disconnect.
// Attempts counts consecutive failed dials since the last established
// connection.
type ConnState struct {
	Connected bool
	Attempts  int
}

type Config struct {
	URL               string
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	// OnConnect runs after every established connection, before any message
	// is read. Re-join and state re-request logic belongs here.
	OnConnect func(ctx context.Context)
	OnState   func(ConnState)
	Logger    *slog.Logger
}

// Client is a persistent client-side websocket speaking {type,payload} JSON
// frames, dispatching inbound frames by type. Handlers run on the read
// goroutine, one at a time.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	routes  map[string]HandlerFunc
	running atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if cfg.ReconnectMinDelay == 0 {
		cfg.ReconnectMinDelay = time.Second
	}
	if cfg.ReconnectMaxDelay == 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg:    *cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		routes: make(map[string]HandlerFunc),
	}, nil
}

// Handle registers a handler for a message type. Must be called before Run.
func (c *Client) Handle(messageType string, handler HandlerFunc) {
	c.routes[messageType] = handler
}

// Run dials and serves the connection, redialing with exponential backoff
// until the context is cancelled. At most one Run may be active per client.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	attempts := 0
	delay := c.cfg.ReconnectMinDelay

	for {
		conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			attempts++
			c.notify(ConnState{Connected: false, Attempts: attempts})
			c.cfg.Logger.WarnContext(ctx, "dial failed", "url", c.cfg.URL, "attempts", attempts, "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.cfg.ReconnectMaxDelay)
			continue
		}

		attempts = 0
		delay = c.cfg.ReconnectMinDelay
		c.setConn(conn)
		c.notify(ConnState{Connected: true})

		if c.cfg.OnConnect != nil {
			c.cfg.OnConnect(ctx)
		}

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close()
		c.notify(ConnState{Connected: false})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.cfg.Logger.InfoContext(ctx, "connection lost, reconnecting", "error", err)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		if handler, exists := c.routes[msg.Type]; exists {
			handler(ctx, msg.Payload)
		} else {
			c.cfg.Logger.DebugContext(ctx, "unknown message type", "type", msg.Type)
		}
	}
}

// Emit writes a {type,payload} frame to the current connection.
func (c *Client) Emit(messageType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return c.conn.WriteJSON(&message{Type: messageType, Payload: raw})
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) notify(state ConnState) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(state)
	}
}
