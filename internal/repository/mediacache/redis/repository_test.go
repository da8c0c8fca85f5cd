package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/display/internal/repository/mediacache"
)

func setupRepo(t *testing.T, ttl time.Duration) (*repo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	return NewRepo(rc, ttl), mr
}

func TestSetAndGetURL(t *testing.T) {
	r, _ := setupRepo(t, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, r.SetURL(ctx, "room-1", "vid-1", "http://cdn/x.mp4"))

	url, err := r.GetURL(ctx, "room-1", "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/x.mp4", url)
}

func TestGetURLMissing(t *testing.T) {
	r, _ := setupRepo(t, 15*time.Minute)

	_, err := r.GetURL(context.Background(), "room-1", "vid-unknown")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
}

func TestURLScopedByRoom(t *testing.T) {
	r, _ := setupRepo(t, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, r.SetURL(ctx, "room-1", "vid-1", "http://cdn/a.mp4"))
	require.NoError(t, r.SetURL(ctx, "room-2", "vid-1", "http://cdn/b.mp4"))

	url, err := r.GetURL(ctx, "room-2", "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/b.mp4", url)
}

func TestURLExpires(t *testing.T) {
	r, mr := setupRepo(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, r.SetURL(ctx, "room-1", "vid-1", "http://cdn/x.mp4"))

	mr.FastForward(2 * time.Minute)

	_, err := r.GetURL(ctx, "room-1", "vid-1")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
}
