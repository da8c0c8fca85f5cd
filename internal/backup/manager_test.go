package backup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/display/internal/repository/mediacache/inmemory"
)

type fetchFunc func(ctx context.Context, roomId, videoId string) (string, error)

func (f fetchFunc) Fetch(ctx context.Context, roomId, videoId string) (string, error) {
	return f(ctx, roomId, videoId)
}

type countingFetch struct {
	mu    sync.Mutex
	calls int
	fn    func(attempt int) (string, error)
}

func (c *countingFetch) Fetch(ctx context.Context, roomId, videoId string) (string, error) {
	c.mu.Lock()
	c.calls++
	attempt := c.calls
	c.mu.Unlock()
	return c.fn(attempt)
}

func (c *countingFetch) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordedResolve struct {
	videoId string
	url     string
}

func managerConfig() Config {
	return Config{
		RoomId:        "room-1",
		RateLimit:     100 * time.Millisecond,
		RetryDelay:    time.Hour,
		SelfHealAfter: time.Hour,
	}
}

func TestTriggerResolvesBackupURL(t *testing.T) {
	fetch := fetchFunc(func(ctx context.Context, roomId, videoId string) (string, error) {
		assert.Equal(t, "room-1", roomId)
		assert.Equal(t, "vid-1", videoId)
		return "http://cdn/x.mp4", nil
	})

	m := NewManager(managerConfig(), fetch, nil, slog.Default())
	defer m.Close()

	resolved := make(chan recordedResolve, 1)
	m.SetHandlers(Handlers{
		OnBackupResolved: func(videoId, url string) {
			resolved <- recordedResolve{videoId, url}
		},
	})

	m.Reset("vid-1")
	m.Trigger("vid-1")

	select {
	case r := <-resolved:
		assert.Equal(t, "vid-1", r.videoId)
		assert.Equal(t, "http://cdn/x.mp4", r.url)
	case <-time.After(time.Second):
		t.Fatal("backup url was never resolved")
	}

	st := m.State()
	assert.Equal(t, "http://cdn/x.mp4", st.BackupURL)
	assert.True(t, st.PrimaryFailed)
	assert.False(t, st.BackupReady, "authority must not flip before the loaded signal")

	m.MarkLoaded("vid-1")
	assert.True(t, m.State().BackupReady)
}

func TestTriggerWhileLoadingIsIgnored(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	fetch := &countingFetch{fn: func(int) (string, error) {
		started <- struct{}{}
		<-release
		return "http://cdn/x.mp4", nil
	}}

	m := NewManager(managerConfig(), fetch, nil, slog.Default())
	defer m.Close()
	m.SetHandlers(Handlers{})

	m.Reset("vid-1")
	m.Trigger("vid-1")
	<-started
	m.Trigger("vid-1")
	m.Trigger("vid-1")
	close(release)

	assert.Eventually(t, func() bool {
		return m.State().BackupURL != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fetch.count(), "one cycle in flight per item")
}

func TestTriggerRateLimitedAfterFailure(t *testing.T) {
	fetch := &countingFetch{fn: func(int) (string, error) {
		return "", errors.New("upstream down")
	}}

	cfg := managerConfig()
	cfg.RateLimit = 150 * time.Millisecond
	m := NewManager(cfg, fetch, nil, slog.Default())
	defer m.Close()
	m.SetHandlers(Handlers{})

	m.Reset("vid-1")
	m.Trigger("vid-1")

	assert.Eventually(t, func() bool {
		return m.State().BackupError
	}, time.Second, 5*time.Millisecond)

	// Rapid duplicate failure signals inside the window are swallowed.
	m.Trigger("vid-1")
	m.Trigger("vid-1")
	assert.Equal(t, 1, fetch.count())

	time.Sleep(200 * time.Millisecond)
	m.Trigger("vid-1")
	assert.Eventually(t, func() bool {
		return fetch.count() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestFailedFetchAutoRetriesOnce(t *testing.T) {
	fetch := &countingFetch{fn: func(int) (string, error) {
		return "", errors.New("upstream down")
	}}

	cfg := managerConfig()
	cfg.RetryDelay = 30 * time.Millisecond
	m := NewManager(cfg, fetch, nil, slog.Default())
	defer m.Close()
	m.SetHandlers(Handlers{})

	m.Reset("vid-1")
	m.Trigger("vid-1")

	assert.Eventually(t, func() bool {
		return fetch.count() == 2
	}, time.Second, 5*time.Millisecond, "one silent auto-retry")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, fetch.count(), "only one auto-retry per cycle")
	assert.True(t, m.State().BackupError)
}

func TestAutoRetrySkippedOnceResolved(t *testing.T) {
	fetch := &countingFetch{fn: func(attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("blip")
		}
		return "http://cdn/x.mp4", nil
	}}

	cfg := managerConfig()
	cfg.RetryDelay = 30 * time.Millisecond
	m := NewManager(cfg, fetch, nil, slog.Default())
	defer m.Close()
	m.SetHandlers(Handlers{})

	m.Reset("vid-1")
	m.Trigger("vid-1")

	assert.Eventually(t, func() bool {
		return m.State().BackupURL != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, fetch.count())
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	fetch := fetchFunc(func(ctx context.Context, roomId, videoId string) (string, error) {
		started <- struct{}{}
		<-release
		return "http://cdn/stale.mp4", nil
	})

	m := NewManager(managerConfig(), fetch, nil, slog.Default())
	defer m.Close()

	resolved := make(chan recordedResolve, 1)
	m.SetHandlers(Handlers{
		OnBackupResolved: func(videoId, url string) {
			resolved <- recordedResolve{videoId, url}
		},
	})

	m.Reset("vid-1")
	m.Trigger("vid-1")
	<-started

	// The active item changes while the fetch is in flight.
	m.Reset("vid-2")
	close(release)

	select {
	case r := <-resolved:
		t.Fatalf("stale result must be discarded, got %s for %s", r.url, r.videoId)
	case <-time.After(100 * time.Millisecond):
	}

	st := m.State()
	assert.Empty(t, st.BackupURL)
	assert.False(t, st.PrimaryFailed)
}

func TestPlaybackErrorAllowsExactlyOneMoreCycle(t *testing.T) {
	fetch := &countingFetch{fn: func(int) (string, error) {
		return "http://cdn/x.mp4", nil
	}}

	m := NewManager(managerConfig(), fetch, nil, slog.Default())
	defer m.Close()

	resolved := make(chan recordedResolve, 4)
	m.SetHandlers(Handlers{
		OnBackupResolved: func(videoId, url string) {
			resolved <- recordedResolve{videoId, url}
		},
	})

	m.Reset("vid-1")
	m.Trigger("vid-1")
	require.Eventually(t, func() bool { return fetch.count() == 1 }, time.Second, 5*time.Millisecond)
	<-resolved
	m.MarkLoaded("vid-1")

	// Backup media itself failed: one more cycle, started without waiting
	// out the rate limit.
	m.PlaybackError("vid-1")
	require.Eventually(t, func() bool { return fetch.count() == 2 }, time.Second, 5*time.Millisecond)
	<-resolved
	m.MarkLoaded("vid-1")

	// Second backup failure exhausts the budget for this item.
	m.PlaybackError("vid-1")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, fetch.count())

	st := m.State()
	assert.Empty(t, st.BackupURL)
	assert.False(t, st.IsLoadingBackup)
	assert.True(t, st.PrimaryFailed)

	// A new item resets the budget.
	m.Reset("vid-2")
	m.Trigger("vid-2")
	assert.Eventually(t, func() bool { return fetch.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSelfHealClearsFailedStateAndAsksAgain(t *testing.T) {
	fetch := &countingFetch{fn: func(int) (string, error) {
		return "", errors.New("upstream down")
	}}

	cfg := managerConfig()
	cfg.SelfHealAfter = 80 * time.Millisecond
	m := NewManager(cfg, fetch, nil, slog.Default())
	defer m.Close()

	healed := make(chan struct{}, 1)
	m.SetHandlers(Handlers{
		OnSelfHeal: func() { healed <- struct{}{} },
	})

	m.Reset("vid-1")
	m.Trigger("vid-1")

	select {
	case <-healed:
	case <-time.After(time.Second):
		t.Fatal("self-heal never fired")
	}

	st := m.State()
	assert.False(t, st.PrimaryFailed)
	assert.False(t, st.BackupError)

	// Healed state earns the primary a fresh cycle budget.
	time.Sleep(cfg.RateLimit + 20*time.Millisecond)
	m.Trigger("vid-1")
	assert.Eventually(t, func() bool { return fetch.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSelfHealSkippedWhileBackupHealthy(t *testing.T) {
	fetch := &countingFetch{fn: func(int) (string, error) {
		return "http://cdn/x.mp4", nil
	}}

	cfg := managerConfig()
	cfg.SelfHealAfter = 50 * time.Millisecond
	m := NewManager(cfg, fetch, nil, slog.Default())
	defer m.Close()

	healed := make(chan struct{}, 1)
	resolved := make(chan recordedResolve, 1)
	m.SetHandlers(Handlers{
		OnSelfHeal:       func() { healed <- struct{}{} },
		OnBackupResolved: func(videoId, url string) { resolved <- recordedResolve{videoId, url} },
	})

	m.Reset("vid-1")
	m.Trigger("vid-1")
	<-resolved
	m.MarkLoaded("vid-1")

	select {
	case <-healed:
		t.Fatal("self-heal must not interrupt healthy backup playback")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTriggerIgnoredForWrongOrEmptyItem(t *testing.T) {
	fetch := &countingFetch{fn: func(int) (string, error) {
		return "http://cdn/x.mp4", nil
	}}

	m := NewManager(managerConfig(), fetch, nil, slog.Default())
	defer m.Close()
	m.SetHandlers(Handlers{})

	m.Reset("vid-1")
	m.Trigger("")
	m.Trigger("vid-other")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fetch.count())
}

func TestCachedURLSkipsFetch(t *testing.T) {
	fetch := &countingFetch{fn: func(int) (string, error) {
		return "", errors.New("should not be called")
	}}

	cache := inmemory.NewRepo(time.Minute)
	require.NoError(t, cache.SetURL(context.Background(), "room-1", "vid-1", "http://cdn/cached.mp4"))

	m := NewManager(managerConfig(), fetch, cache, slog.Default())
	defer m.Close()

	resolved := make(chan recordedResolve, 1)
	m.SetHandlers(Handlers{
		OnBackupResolved: func(videoId, url string) { resolved <- recordedResolve{videoId, url} },
	})

	m.Reset("vid-1")
	m.Trigger("vid-1")

	select {
	case r := <-resolved:
		assert.Equal(t, "http://cdn/cached.mp4", r.url)
	case <-time.After(time.Second):
		t.Fatal("cached url was never resolved")
	}
	assert.Zero(t, fetch.count())
}
