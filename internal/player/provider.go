package player

import "context"

type EventType string

const (
	EventReady          EventType = "ready"
	EventPlaying        EventType = "playing"
	EventPaused         EventType = "paused"
	EventBuffering      EventType = "buffering"
	EventEnded          EventType = "ended"
	EventError          EventType = "error"
	EventQualityChanged EventType = "quality_changed"
)

type Event struct {
	Type      EventType
	ErrorCode int
	Message   string
	Quality   string
}

type PlayerState string

const (
	StateUnstarted PlayerState = "unstarted"
	StatePlaying   PlayerState = "playing"
	StatePaused    PlayerState = "paused"
	StateBuffering PlayerState = "buffering"
	StateEnded     PlayerState = "ended"
)

// Source identifies what a provider should play: an item id for the
// embeddable provider, or a direct media url for the backup surface.
type Source struct {
	VideoId   string
	DirectURL string
}

// Provider is the minimum operable surface of a playback instance. All
// methods may fail: an instance whose control surface errors is treated as
// broken and reinitialized.
type Provider interface {
	Load(ctx context.Context, src Source, startSeconds float64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, volume int) error
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
	Position(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	State(ctx context.Context) (PlayerState, error)
	SetVisible(ctx context.Context, visible bool) error
	Close() error
}

// Factory constructs a provider instance delivering normalized events to
// onEvent. Called once on first mount and again only after an instance is
// confirmed broken.
type Factory func(ctx context.Context, onEvent func(Event)) (Provider, error)
