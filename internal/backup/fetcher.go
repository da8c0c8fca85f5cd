package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

var ErrNoBackupURL = errors.New("backup endpoint returned no url")

type FetcherConfig struct {
	BaseURL  string
	Attempts int
	Backoff  time.Duration
}

// Fetcher resolves an item's direct backup media url from the room-scoped
// backup-media endpoint. One Fetch call covers the full bounded attempt
// sequence; the caller's context carries the overall timeout.
type Fetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewFetcher(cfg FetcherConfig, httpClient *http.Client, log *slog.Logger) *Fetcher {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Fetcher{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, roomId, videoId string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < f.cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.cfg.Backoff):
			}
		}

		backupURL, err := f.fetchOnce(ctx, roomId, videoId)
		if err == nil {
			return backupURL, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		f.log.WarnContext(ctx, "backup fetch attempt failed", "videoId", videoId, "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("failed to fetch backup url after %d attempts: %w", f.cfg.Attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, roomId, videoId string) (string, error) {
	endpoint := fmt.Sprintf("%s/room-music/%s/%s", f.cfg.BaseURL, url.PathEscape(roomId), url.PathEscape(videoId))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		Result struct {
			URL string `json:"url"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode backup response: %w", err)
	}
	if body.Result.URL == "" {
		return "", ErrNoBackupURL
	}

	return body.Result.URL, nil
}
