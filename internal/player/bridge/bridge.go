// Package bridge drives a render surface over a local websocket. The
// surface (an embedded web view hosting the provider iframe or a bare media
// element) executes commands and streams back normalized playback events;
// everything about how it embeds and renders stays on its side of the
// socket.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomcast/display/internal/player"
)

const callTimeout = 5 * time.Second

type command struct {
	Id      int64   `json:"id,omitempty"`
	Cmd     string  `json:"cmd"`
	VideoId string  `json:"video_id,omitempty"`
	URL     string  `json:"url,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
	Volume  int     `json:"volume,omitempty"`
	Visible *bool   `json:"visible,omitempty"`
	Quality string  `json:"quality,omitempty"`
}

type frame struct {
	// Reply fields.
	Id     int64           `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Event fields.
	Event   string `json:"event,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// Surface is a player.Provider backed by one bridge connection.
type Surface struct {
	conn    *websocket.Conn
	onEvent func(player.Event)
	log     *slog.Logger
	// events decouples delivery from the read goroutine: handlers may issue
	// commands, and their replies must still be readable while the handler
	// runs. Order is preserved.
	events chan player.Event

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan frame
	nextId  int64
	closed  bool
}

// Dial connects to a surface control endpoint and starts delivering its
// events to onEvent.
func Dial(ctx context.Context, url string, onEvent func(player.Event), log *slog.Logger) (*Surface, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial surface: %w", err)
	}

	s := &Surface{
		conn:    conn,
		onEvent: onEvent,
		log:     log,
		events:  make(chan player.Event, 32),
		pending: make(map[int64]chan frame),
	}
	go s.dispatchLoop()
	go s.readLoop()

	return s, nil
}

func (s *Surface) readLoop() {
	defer close(s.events)

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.failPending(err)
			return
		}

		if f.Id != 0 {
			s.mu.Lock()
			ch, ok := s.pending[f.Id]
			if ok {
				delete(s.pending, f.Id)
			}
			s.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}

		if ev, ok := normalizeEvent(&f); ok {
			s.events <- ev
		} else if s.log != nil {
			s.log.Debug("unknown surface event", "event", f.Event)
		}
	}
}

func (s *Surface) dispatchLoop() {
	for ev := range s.events {
		s.onEvent(ev)
	}
}

func normalizeEvent(f *frame) (player.Event, bool) {
	switch f.Event {
	case "ready", "loaded":
		// A bare media element reports loadeddata; the embed reports ready.
		return player.Event{Type: player.EventReady}, true
	case "playing":
		return player.Event{Type: player.EventPlaying}, true
	case "paused":
		return player.Event{Type: player.EventPaused}, true
	case "buffering":
		return player.Event{Type: player.EventBuffering}, true
	case "ended":
		return player.Event{Type: player.EventEnded}, true
	case "error":
		return player.Event{Type: player.EventError, ErrorCode: f.Code, Message: f.Message}, true
	case "quality_changed":
		return player.Event{Type: player.EventQualityChanged, Quality: f.Quality}, true
	}
	return player.Event{}, false
}

func (s *Surface) call(ctx context.Context, cmd command) (json.RawMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("surface is closed")
	}
	s.nextId++
	cmd.Id = s.nextId
	ch := make(chan frame, 1)
	s.pending[cmd.Id] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(&cmd)
	s.writeMu.Unlock()
	if err != nil {
		s.dropPending(cmd.Id)
		return nil, fmt.Errorf("failed to send %s: %w", cmd.Cmd, err)
	}

	timeout := time.NewTimer(callTimeout)
	defer timeout.Stop()

	select {
	case f := <-ch:
		if f.Error != "" {
			return nil, fmt.Errorf("surface rejected %s: %s", cmd.Cmd, f.Error)
		}
		return f.Result, nil
	case <-ctx.Done():
		s.dropPending(cmd.Id)
		return nil, ctx.Err()
	case <-timeout.C:
		s.dropPending(cmd.Id)
		return nil, fmt.Errorf("surface did not reply to %s", cmd.Cmd)
	}
}

func (s *Surface) dropPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Surface) failPending(err error) {
	s.mu.Lock()
	for id, ch := range s.pending {
		delete(s.pending, id)
		ch <- frame{Error: err.Error()}
	}
	s.closed = true
	s.mu.Unlock()
}

func (s *Surface) Load(ctx context.Context, src player.Source, startSeconds float64) error {
	_, err := s.call(ctx, command{Cmd: "load", VideoId: src.VideoId, URL: src.DirectURL, Seconds: startSeconds})
	return err
}

func (s *Surface) Play(ctx context.Context) error {
	_, err := s.call(ctx, command{Cmd: "play"})
	return err
}

func (s *Surface) Pause(ctx context.Context) error {
	_, err := s.call(ctx, command{Cmd: "pause"})
	return err
}

func (s *Surface) Seek(ctx context.Context, seconds float64) error {
	_, err := s.call(ctx, command{Cmd: "seek", Seconds: seconds})
	return err
}

func (s *Surface) SetVolume(ctx context.Context, volume int) error {
	_, err := s.call(ctx, command{Cmd: "set_volume", Volume: volume})
	return err
}

func (s *Surface) Mute(ctx context.Context) error {
	_, err := s.call(ctx, command{Cmd: "mute"})
	return err
}

func (s *Surface) Unmute(ctx context.Context) error {
	_, err := s.call(ctx, command{Cmd: "unmute"})
	return err
}

func (s *Surface) SetVisible(ctx context.Context, visible bool) error {
	_, err := s.call(ctx, command{Cmd: "set_visible", Visible: &visible})
	return err
}

func (s *Surface) SetPlaybackQuality(ctx context.Context, quality string) error {
	_, err := s.call(ctx, command{Cmd: "set_quality", Quality: quality})
	return err
}

func (s *Surface) Position(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, "position")
}

func (s *Surface) Duration(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, "duration")
}

func (s *Surface) queryFloat(ctx context.Context, cmd string) (float64, error) {
	raw, err := s.call(ctx, command{Cmd: cmd})
	if err != nil {
		return 0, err
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("failed to decode %s reply: %w", cmd, err)
	}
	return value, nil
}

func (s *Surface) State(ctx context.Context) (player.PlayerState, error) {
	raw, err := s.call(ctx, command{Cmd: "state"})
	if err != nil {
		return "", err
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("failed to decode state reply: %w", err)
	}
	return player.PlayerState(value), nil
}

func (s *Surface) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}
