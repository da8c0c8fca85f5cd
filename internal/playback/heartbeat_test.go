package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatTicksUntilCancelled(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	h.service.HandleCurrentSong(ctx, record("vid-1", 0, time.Now()))
	h.primary.position = 10
	h.primary.duration = 180

	hb := NewHeartbeat(h.service, 20*time.Millisecond)
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		h.channel.mu.Lock()
		defer h.channel.mu.Unlock()
		return len(h.channel.timeUpdates) >= 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop on cancel")
	}
}
