package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDispatchesFramesByType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{"type": "greeting", "payload": map[string]string{"name": "display"}}))
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "unknown_kind", "payload": nil}))
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "greeting", "payload": map[string]string{"name": "again"}}))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: wsURL(srv)})
	require.NoError(t, err)

	var mu sync.Mutex
	var names []string
	c.Handle("greeting", func(_ context.Context, payload json.RawMessage) {
		var body struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(payload, &body))
		mu.Lock()
		names = append(names, body.Name)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"display", "again"}, names)
	mu.Unlock()
}

func TestEmitWritesFrame(t *testing.T) {
	frames := make(chan message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var msg message
		if err := conn.ReadJSON(&msg); err == nil {
			frames <- msg
		}
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: wsURL(srv)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Emit("time_update", map[string]any{"current_time": 42.0}))

	select {
	case msg := <-frames:
		assert.Equal(t, "time_update", msg.Type)
		assert.JSONEq(t, `{"current_time":42}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestEmitWithoutConnectionFails(t *testing.T) {
	c, err := NewClient(&Config{URL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)

	assert.ErrorIs(t, c.Emit("time_update", nil), ErrNotConnected)
}

func TestRunIsExclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := NewClient(&Config{URL: wsURL(srv)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	running := make(chan error, 1)
	go func() { running <- c.Run(ctx) }()

	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-running:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestReconnectsAndRerunsOnConnect(t *testing.T) {
	var mu sync.Mutex
	accepted := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		mu.Lock()
		n := accepted
		accepted++
		mu.Unlock()

		if n == 0 {
			// Drop the first connection immediately to force a redial.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var connMu sync.Mutex
	connects := 0
	var states []ConnState

	c, err := NewClient(&Config{
		URL:               wsURL(srv),
		ReconnectMinDelay: 10 * time.Millisecond,
		OnConnect: func(context.Context) {
			connMu.Lock()
			connects++
			connMu.Unlock()
		},
		OnState: func(state ConnState) {
			connMu.Lock()
			states = append(states, state)
			connMu.Unlock()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	assert.Eventually(t, func() bool {
		connMu.Lock()
		defer connMu.Unlock()
		return connects >= 2
	}, 3*time.Second, 10*time.Millisecond, "client must redial after losing the connection")

	connMu.Lock()
	defer connMu.Unlock()
	require.NotEmpty(t, states)
	assert.True(t, states[0].Connected)
}

func TestReconnectCyclesLeaveNoResidue(t *testing.T) {
	var accepted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		accepted.Add(1)
		conn.Close()
	}))
	defer srv.Close()

	before := runtime.NumGoroutine()

	c, err := NewClient(&Config{
		URL:               wsURL(srv),
		ReconnectMinDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return accepted.Load() >= 25
	}, 10*time.Second, 5*time.Millisecond)

	// Each connection's goroutines must end with it; a per-connection leak
	// would leave ~25 goroutines behind here.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() < before+10
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
}
