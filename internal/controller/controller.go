package controller

import (
	"context"
	"encoding/json"
	"math"

	"github.com/roomcast/display/internal/channel"
	"github.com/roomcast/display/internal/playback"
	"github.com/roomcast/display/pkg/validator"
)

type iPlaybackService interface {
	HandleCurrentSong(ctx context.Context, record *playback.NowPlayingRecord)
	HandleServerVideoEvent(ctx context.Context, event string, currentTime float64)
	HandleNowPlayingCleared(ctx context.Context)
	HandleVolumeChange(ctx context.Context, volume int)
	HandleVideosTurnedOff(ctx context.Context)
	HandleVideosTurnedOn(ctx context.Context)
}

type iRouter interface {
	Handle(messageType string, handler func(ctx context.Context, payload json.RawMessage))
}

// controller unmarshals and validates inbound channel payloads and hands
// them to the playback service.
type controller struct {
	playbackService iPlaybackService
	validate        *validator.Validator
}

func NewController(playbackService iPlaybackService) *controller {
	return &controller{
		playbackService: playbackService,
		validate:        validator.NewValidator(),
	}
}

// Register binds every inbound message type on the channel router.
func (c *controller) Register(router iRouter) {
	router.Handle(channel.MsgCurrentSong, c.handleNowPlaying)
	router.Handle(channel.MsgPlaySong, c.handleNowPlaying)
	router.Handle(channel.MsgVideoEvent, c.handleVideoEvent)
	router.Handle(channel.MsgNowPlayingCleared, c.handleNowPlayingCleared)
	router.Handle(channel.MsgVolumeChange, c.handleVolumeChange)
	router.Handle(channel.MsgVideosTurnedOff, c.handleVideosTurnedOff)
	router.Handle(channel.MsgVideosTurnedOn, c.handleVideosTurnedOn)
}

// handleNowPlaying covers current_song and play_song: both carry a
// NowPlayingRecord-shaped payload, and a null payload reports that the
// server has no record for the room.
func (c *controller) handleNowPlaying(ctx context.Context, payload json.RawMessage) {
	if len(payload) == 0 || string(payload) == "null" {
		c.playbackService.HandleCurrentSong(ctx, nil)
		return
	}

	var data channel.NowPlayingPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		logInvalidPayload(ctx, channel.MsgCurrentSong, err)
		return
	}
	if err := c.validate.Validate(&data); err != nil {
		logInvalidPayload(ctx, channel.MsgCurrentSong, err)
		return
	}

	c.playbackService.HandleCurrentSong(ctx, &playback.NowPlayingRecord{
		VideoId:                    data.VideoId,
		Title:                      data.Title,
		Thumbnail:                  data.Thumbnail,
		Author:                     data.Author,
		DurationSeconds:            data.DurationSeconds,
		ServerTimestampMs:          data.ServerTimestampMs,
		PositionAtTimestampSeconds: data.PositionAtTimestampSeconds,
	})
}

func (c *controller) handleVideoEvent(ctx context.Context, payload json.RawMessage) {
	var data channel.VideoEventPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		logInvalidPayload(ctx, channel.MsgVideoEvent, err)
		return
	}
	if err := c.validate.Validate(&data); err != nil {
		logInvalidPayload(ctx, channel.MsgVideoEvent, err)
		return
	}

	c.playbackService.HandleServerVideoEvent(ctx, data.Event, data.CurrentTime)
}

func (c *controller) handleNowPlayingCleared(ctx context.Context, _ json.RawMessage) {
	c.playbackService.HandleNowPlayingCleared(ctx)
}

// handleVolumeChange accepts any JSON number, fractional included.
func (c *controller) handleVolumeChange(ctx context.Context, payload json.RawMessage) {
	var volume float64
	if err := json.Unmarshal(payload, &volume); err != nil {
		logInvalidPayload(ctx, channel.MsgVolumeChange, err)
		return
	}

	c.playbackService.HandleVolumeChange(ctx, int(math.Round(volume)))
}

func (c *controller) handleVideosTurnedOff(ctx context.Context, _ json.RawMessage) {
	c.playbackService.HandleVideosTurnedOff(ctx)
}

func (c *controller) handleVideosTurnedOn(ctx context.Context, _ json.RawMessage) {
	c.playbackService.HandleVideosTurnedOn(ctx)
}
