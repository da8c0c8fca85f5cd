// Package mediacache caches resolved backup media urls per room and item so
// co-located displays failing over off the same provider outage do not all
// hit the backup-media endpoint.
package mediacache

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("backup url not found")

type Repo interface {
	GetURL(ctx context.Context, roomId, videoId string) (string, error)
	SetURL(ctx context.Context, roomId, videoId, url string) error
}
