package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomcast/display/internal/repository/mediacache"
)

type repo struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRepo(rc *redis.Client, ttl time.Duration) *repo {
	return &repo{
		rc:  rc,
		ttl: ttl,
	}
}

func (r *repo) key(roomId, videoId string) string {
	return fmt.Sprintf("mediacache:%s:%s", roomId, videoId)
}

func (r *repo) GetURL(ctx context.Context, roomId, videoId string) (string, error) {
	funcName := "mediacache.redis.GetURL"
	slog.DebugContext(ctx, funcName, "roomId", roomId, "videoId", videoId)

	url, err := r.rc.Get(ctx, r.key(roomId, videoId)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", mediacache.ErrNotFound
		}
		return "", fmt.Errorf("failed to get backup url: %w", err)
	}

	slog.DebugContext(ctx, funcName, "result", "OK")
	return url, nil
}

func (r *repo) SetURL(ctx context.Context, roomId, videoId, url string) error {
	funcName := "mediacache.redis.SetURL"
	slog.DebugContext(ctx, funcName, "roomId", roomId, "videoId", videoId)

	if err := r.rc.Set(ctx, r.key(roomId, videoId), url, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set backup url: %w", err)
	}

	slog.DebugContext(ctx, funcName, "result", "OK")
	return nil
}
