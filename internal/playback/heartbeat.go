package playback

import (
	"context"
	"time"
)

// Heartbeat drives the 1s telemetry beat against the state machine.
type Heartbeat struct {
	service  *service
	interval time.Duration
}

func NewHeartbeat(service *service, interval time.Duration) *Heartbeat {
	if interval == 0 {
		interval = time.Second
	}

	return &Heartbeat{
		service:  service,
		interval: interval,
	}
}

func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.service.Tick(ctx)
		}
	}
}
