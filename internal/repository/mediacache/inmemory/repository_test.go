package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/display/internal/repository/mediacache"
)

func TestSetAndGetURL(t *testing.T) {
	r := NewRepo(time.Minute)
	ctx := context.Background()

	require.NoError(t, r.SetURL(ctx, "room-1", "vid-1", "http://cdn/x.mp4"))

	url, err := r.GetURL(ctx, "room-1", "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/x.mp4", url)
}

func TestGetURLMissing(t *testing.T) {
	r := NewRepo(time.Minute)

	_, err := r.GetURL(context.Background(), "room-1", "vid-unknown")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
}

func TestURLExpires(t *testing.T) {
	r := NewRepo(time.Minute)
	ctx := context.Background()

	base := time.Now()
	r.now = func() time.Time { return base }
	require.NoError(t, r.SetURL(ctx, "room-1", "vid-1", "http://cdn/x.mp4"))

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err := r.GetURL(ctx, "room-1", "vid-1")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
}

func TestLatestWriteWins(t *testing.T) {
	r := NewRepo(time.Minute)
	ctx := context.Background()

	require.NoError(t, r.SetURL(ctx, "room-1", "vid-1", "http://cdn/old.mp4"))
	require.NoError(t, r.SetURL(ctx, "room-1", "vid-1", "http://cdn/new.mp4"))

	url, err := r.GetURL(ctx, "room-1", "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/new.mp4", url)
}
