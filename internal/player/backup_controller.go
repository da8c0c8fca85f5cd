package player

import (
	"context"
	"fmt"
	"sync"
)

// BackupController wraps the direct-media backup surface. Unlike the
// primary controller it needs no readiness probe or stuck watchdog: the
// backup media element either fires loaded or errors.
type BackupController struct {
	mu       sync.Mutex
	factory  Factory
	provider Provider
}

func NewBackupController(factory Factory) *BackupController {
	return &BackupController{factory: factory}
}

func (c *BackupController) Start(ctx context.Context, onEvent func(Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider != nil {
		return nil
	}

	provider, err := c.factory(ctx, onEvent)
	if err != nil {
		return fmt.Errorf("failed to create backup provider: %w", err)
	}
	c.provider = provider

	return nil
}

func (c *BackupController) LoadURL(ctx context.Context, url string, startSeconds float64) error {
	return c.current().Load(ctx, Source{DirectURL: url}, startSeconds)
}

func (c *BackupController) Play(ctx context.Context) error   { return c.current().Play(ctx) }
func (c *BackupController) Pause(ctx context.Context) error  { return c.current().Pause(ctx) }
func (c *BackupController) Mute(ctx context.Context) error   { return c.current().Mute(ctx) }
func (c *BackupController) Unmute(ctx context.Context) error { return c.current().Unmute(ctx) }

func (c *BackupController) Seek(ctx context.Context, seconds float64) error {
	return c.current().Seek(ctx, seconds)
}

func (c *BackupController) SetVolume(ctx context.Context, volume int) error {
	return c.current().SetVolume(ctx, volume)
}

func (c *BackupController) SetVisible(ctx context.Context, visible bool) error {
	return c.current().SetVisible(ctx, visible)
}

func (c *BackupController) Position(ctx context.Context) (float64, error) {
	return c.current().Position(ctx)
}

func (c *BackupController) Duration(ctx context.Context) (float64, error) {
	return c.current().Duration(ctx)
}

func (c *BackupController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		return nil
	}
	err := c.provider.Close()
	c.provider = nil
	return err
}

func (c *BackupController) current() Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider == nil {
		return brokenProvider{}
	}
	return c.provider
}
