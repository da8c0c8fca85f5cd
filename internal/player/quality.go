package player

import (
	"context"
	"log/slog"
	"time"
)

// qualitySetter is implemented by providers that expose a quality hint.
type qualitySetter interface {
	SetPlaybackQuality(ctx context.Context, quality string) error
}

// QualityPolicy nudges a provider toward its highest quality level. Purely
// cosmetic: every outcome, including a provider that ignores the hint
// entirely, leaves playback state untouched.
type QualityPolicy struct {
	Quality  string
	Attempts int
	Interval time.Duration
	Log      *slog.Logger
}

func NewQualityPolicy(log *slog.Logger) *QualityPolicy {
	return &QualityPolicy{
		Quality:  "highres",
		Attempts: 3,
		Interval: 2 * time.Second,
		Log:      log,
	}
}

// Apply fires the quality hint in the background and returns immediately.
func (p *QualityPolicy) Apply(ctx context.Context, provider Provider) {
	setter, ok := provider.(qualitySetter)
	if !ok {
		return
	}

	go func() {
		for attempt := 0; attempt < p.Attempts; attempt++ {
			if err := setter.SetPlaybackQuality(ctx, p.Quality); err == nil {
				return
			} else if p.Log != nil {
				p.Log.Debug("quality hint rejected", "attempt", attempt+1, "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.Interval):
			}
		}
	}()
}
