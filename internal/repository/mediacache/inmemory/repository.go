package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roomcast/display/internal/repository/mediacache"
)

type entry struct {
	url       string
	expiresAt time.Time
}

type repo struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewRepo(ttl time.Duration) *repo {
	return &repo{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *repo) key(roomId, videoId string) string {
	return fmt.Sprintf("%s:%s", roomId, videoId)
}

func (r *repo) GetURL(_ context.Context, roomId, videoId string) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[r.key(roomId, videoId)]
	r.mu.RUnlock()

	if !ok || r.now().After(e.expiresAt) {
		return "", mediacache.ErrNotFound
	}

	return e.url, nil
}

func (r *repo) SetURL(_ context.Context, roomId, videoId, url string) error {
	r.mu.Lock()
	r.entries[r.key(roomId, videoId)] = entry{
		url:       url,
		expiresAt: r.now().Add(r.ttl),
	}
	r.mu.Unlock()

	return nil
}
