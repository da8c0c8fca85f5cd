package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roomcast/display/pkg/ctxlogger"
	"github.com/roomcast/display/pkg/wsclient"
)

type Config struct {
	ServerURL         string
	RoomId            string
	HeartbeatInterval time.Duration
	OnState           func(wsclient.ConnState)
	Logger            *slog.Logger
}

// Client is the room-scoped event channel: one persistent auto-reconnecting
// connection to the authoritative server. Server events may be missed or
// duplicated across reconnects, so every established connection starts with
// a current-song re-request rather than assuming continuity.
type Client struct {
	ws       *wsclient.Client
	roomId   string
	clientId string
	interval time.Duration
	log      *slog.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.RoomId == "" {
		return nil, errors.New("room id is required")
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		roomId:   cfg.RoomId,
		clientId: uuid.NewString(),
		interval: cfg.HeartbeatInterval,
		log:      cfg.Logger,
	}

	ws, err := wsclient.NewClient(&wsclient.Config{
		URL:     cfg.ServerURL,
		OnState: cfg.OnState,
		OnConnect: func(ctx context.Context) {
			if err := c.RequestCurrentSong(ctx); err != nil {
				c.log.WarnContext(ctx, "failed to re-request current song after connect", "error", err)
			}
		},
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ws client: %w", err)
	}
	c.ws = ws

	return c, nil
}

// Handle registers an inbound message handler. Must be called before Run.
func (c *Client) Handle(messageType string, handler func(ctx context.Context, payload json.RawMessage)) {
	c.ws.Handle(messageType, handler)
}

// Run serves the connection and the 30s liveness heartbeat until the
// context is cancelled. Everything logged downstream of the channel carries
// the room and client instance id.
func (c *Client) Run(ctx context.Context) error {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("roomId", c.roomId))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("clientId", c.clientId))

	go c.heartbeatLoop(ctx)
	return c.ws.Run(ctx)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.Emit(msgHeartbeat, &heartbeatPayload{RoomId: c.roomId}); err != nil && !errors.Is(err, wsclient.ErrNotConnected) {
				c.log.WarnContext(ctx, "failed to emit heartbeat", "error", err)
			}
		}
	}
}

func (c *Client) Connected() bool {
	return c.ws.Connected()
}

func (c *Client) RequestCurrentSong(_ context.Context) error {
	return c.ws.Emit(msgRequestCurrentSong, &requestCurrentSongPayload{
		RoomId:   c.roomId,
		ClientId: c.clientId,
	})
}

func (c *Client) SendVideoEvent(_ context.Context, event, videoId string, currentTime float64) error {
	return c.ws.Emit(msgVideoEvent, &videoEventOutPayload{
		RoomId:      c.roomId,
		Event:       event,
		VideoId:     videoId,
		CurrentTime: currentTime,
		ClientId:    c.clientId,
	})
}

func (c *Client) SendVideoReady(_ context.Context, videoId string) error {
	return c.ws.Emit(msgVideoReady, &videoReadyPayload{
		RoomId:  c.roomId,
		VideoId: videoId,
	})
}

func (c *Client) SendVideoError(_ context.Context, videoId string, errorCode int, message string) error {
	return c.ws.Emit(msgVideoError, &videoErrorPayload{
		RoomId:    c.roomId,
		VideoId:   videoId,
		ErrorCode: errorCode,
		Message:   message,
	})
}

func (c *Client) SendSongEnded(_ context.Context, videoId string) error {
	return c.ws.Emit(msgSongEnded, &songEndedPayload{
		RoomId:  c.roomId,
		VideoId: videoId,
	})
}

func (c *Client) SendTimeUpdate(_ context.Context, videoId string, currentTime, duration float64, isPlaying bool) error {
	return c.ws.Emit(msgTimeUpdate, &timeUpdatePayload{
		RoomId:      c.roomId,
		VideoId:     videoId,
		CurrentTime: currentTime,
		Duration:    duration,
		IsPlaying:   isPlaying,
	})
}
