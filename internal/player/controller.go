package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type ControllerConfig struct {
	// StuckGrace is how long an item may sit unstarted with a known duration
	// before the provider is declared implicitly failed.
	StuckGrace time.Duration
	// StuckPositionMax is the position below which an unstarted item counts
	// as never having begun.
	StuckPositionMax float64
}

func (cfg *ControllerConfig) withDefaults() ControllerConfig {
	out := *cfg
	if out.StuckGrace == 0 {
		out.StuckGrace = 8 * time.Second
	}
	if out.StuckPositionMax == 0 {
		out.StuckPositionMax = 0.5
	}
	return out
}

// Controller wraps one long-lived provider instance. Item changes are Load
// calls on the existing instance; a fresh instance is constructed only on
// first mount or after the instance is confirmed broken.
type Controller struct {
	mu sync.Mutex

	factory  Factory
	provider Provider
	cfg      ControllerConfig
	quality  *QualityPolicy
	log      *slog.Logger

	ready         bool
	reinitUsed    bool
	activeVideoId string
	watchdog      *time.Timer

	onEvent func(Event)
	onStuck func(videoId string)
}

func NewController(factory Factory, cfg ControllerConfig, quality *QualityPolicy, log *slog.Logger) *Controller {
	return &Controller{
		factory: factory,
		cfg:     cfg.withDefaults(),
		quality: quality,
		log:     log,
	}
}

// SetHandlers wires the upstream event sink and the stuck-start callback.
// Must be called before Start.
func (c *Controller) SetHandlers(onEvent func(Event), onStuck func(videoId string)) {
	c.onEvent = onEvent
	c.onStuck = onStuck
}

// Start constructs the initial provider instance.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider != nil {
		return nil
	}

	provider, err := c.factory(ctx, c.handleProviderEvent)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	c.provider = provider

	return nil
}

// Load switches the existing instance to a new item and arms the stuck-start
// watchdog for it.
func (c *Controller) Load(ctx context.Context, videoId string, startSeconds float64) error {
	c.mu.Lock()
	provider := c.provider
	c.activeVideoId = videoId
	c.stopWatchdogLocked()
	c.watchdog = time.AfterFunc(c.cfg.StuckGrace, func() {
		c.checkStuck(videoId)
	})
	c.mu.Unlock()

	if provider == nil {
		return fmt.Errorf("provider is not initialized")
	}

	if err := provider.Load(ctx, Source{VideoId: videoId}, startSeconds); err != nil {
		return fmt.Errorf("failed to load video: %w", err)
	}

	return nil
}

func (c *Controller) Play(ctx context.Context) error   { return c.current().Play(ctx) }
func (c *Controller) Pause(ctx context.Context) error  { return c.current().Pause(ctx) }
func (c *Controller) Mute(ctx context.Context) error   { return c.current().Mute(ctx) }
func (c *Controller) Unmute(ctx context.Context) error { return c.current().Unmute(ctx) }

func (c *Controller) Seek(ctx context.Context, seconds float64) error {
	return c.current().Seek(ctx, seconds)
}

func (c *Controller) SetVolume(ctx context.Context, volume int) error {
	return c.current().SetVolume(ctx, volume)
}

func (c *Controller) SetVisible(ctx context.Context, visible bool) error {
	return c.current().SetVisible(ctx, visible)
}

func (c *Controller) Position(ctx context.Context) (float64, error) {
	return c.current().Position(ctx)
}

func (c *Controller) Duration(ctx context.Context) (float64, error) {
	return c.current().Duration(ctx)
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopWatchdogLocked()
	if c.provider == nil {
		return nil
	}

	err := c.provider.Close()
	c.provider = nil
	return err
}

func (c *Controller) current() Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		return brokenProvider{}
	}
	return c.provider
}

func (c *Controller) handleProviderEvent(ev Event) {
	switch ev.Type {
	case EventReady:
		if !c.verifyOperable() {
			c.scheduleReinit()
			return
		}

		c.mu.Lock()
		c.ready = true
		c.reinitUsed = false
		quality := c.quality
		provider := c.provider
		c.mu.Unlock()

		if quality != nil {
			quality.Apply(context.Background(), provider)
		}
	case EventPlaying:
		c.mu.Lock()
		c.stopWatchdogLocked()
		c.mu.Unlock()
	}

	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// verifyOperable probes the instance's query surface before trusting its
// ready signal. An instance that cannot answer position, duration and state
// queries is not operable no matter what it claims.
func (c *Controller) verifyOperable() bool {
	provider := c.current()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := provider.Position(ctx); err != nil {
		c.log.Warn("readiness probe failed on position", "error", err)
		return false
	}
	if _, err := provider.Duration(ctx); err != nil {
		c.log.Warn("readiness probe failed on duration", "error", err)
		return false
	}
	if _, err := provider.State(ctx); err != nil {
		c.log.Warn("readiness probe failed on state", "error", err)
		return false
	}

	return true
}

// scheduleReinit replaces a confirmed-broken instance. One attempt per
// broken instance; a second failure is surfaced as a provider error.
func (c *Controller) scheduleReinit() {
	c.mu.Lock()
	if c.reinitUsed {
		c.mu.Unlock()
		if c.onEvent != nil {
			c.onEvent(Event{Type: EventError, Message: "provider instance is broken after reinitialization"})
		}
		return
	}
	c.reinitUsed = true
	c.ready = false
	old := c.provider
	c.provider = nil
	videoId := c.activeVideoId
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	c.log.Warn("reinitializing broken provider instance", "videoId", videoId)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	provider, err := c.factory(ctx, c.handleProviderEvent)
	if err != nil {
		if c.onEvent != nil {
			c.onEvent(Event{Type: EventError, Message: fmt.Sprintf("failed to reinitialize provider: %v", err)})
		}
		return
	}

	c.mu.Lock()
	c.provider = provider
	c.mu.Unlock()

	if videoId != "" {
		if err := provider.Load(ctx, Source{VideoId: videoId}, 0); err != nil {
			c.log.Warn("failed to reload video after reinit", "error", err)
		}
	}
}

// checkStuck fires once per Load after the grace window. The provider can
// swallow network errors without ever firing its own error event, so a
// known-duration item still unstarted near position zero is an implicit
// failure.
func (c *Controller) checkStuck(videoId string) {
	c.mu.Lock()
	active := c.activeVideoId
	c.mu.Unlock()

	if active != videoId {
		return
	}

	provider := c.current()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	duration, err := provider.Duration(ctx)
	if err != nil || duration <= 0 {
		return
	}
	state, err := provider.State(ctx)
	if err != nil || state != StateUnstarted {
		return
	}
	position, err := provider.Position(ctx)
	if err != nil || position >= c.cfg.StuckPositionMax {
		return
	}

	c.log.Warn("stuck start detected", "videoId", videoId, "position", position)
	if c.onStuck != nil {
		c.onStuck(videoId)
	}
}

func (c *Controller) stopWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

// brokenProvider stands in when no instance exists so pass-through calls
// fail instead of panicking.
type brokenProvider struct{}

func (brokenProvider) Load(context.Context, Source, float64) error { return errNoProvider }
func (brokenProvider) Play(context.Context) error                  { return errNoProvider }
func (brokenProvider) Pause(context.Context) error                 { return errNoProvider }
func (brokenProvider) Seek(context.Context, float64) error         { return errNoProvider }
func (brokenProvider) SetVolume(context.Context, int) error        { return errNoProvider }
func (brokenProvider) Mute(context.Context) error                  { return errNoProvider }
func (brokenProvider) Unmute(context.Context) error                { return errNoProvider }
func (brokenProvider) Position(context.Context) (float64, error)   { return 0, errNoProvider }
func (brokenProvider) Duration(context.Context) (float64, error)   { return 0, errNoProvider }
func (brokenProvider) State(context.Context) (PlayerState, error)  { return "", errNoProvider }
func (brokenProvider) SetVisible(context.Context, bool) error      { return errNoProvider }
func (brokenProvider) Close() error                                { return nil }

var errNoProvider = fmt.Errorf("provider is not initialized")
