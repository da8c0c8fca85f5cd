// Package videometa resolves display metadata (title, author, thumbnail)
// for a video id. The oEmbed endpoint is tried first; non-embeddable videos
// fall back to scraping the watch page.
package videometa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrVideoNotEmbeddable = errors.New("video is not embeddable")
)

type Metadata struct {
	Title        string `json:"title"`
	Author       string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type Client struct {
	httpClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{httpClient: httpClient}
}

func (c *Client) Lookup(ctx context.Context, videoId string) (*Metadata, error) {
	meta, err := c.lookupOEmbed(ctx, videoId)
	if err != nil {
		if !errors.Is(err, ErrVideoNotEmbeddable) {
			return nil, fmt.Errorf("failed to get video metadata with oembed: %w", err)
		}

		meta, err = c.lookupPage(ctx, videoId)
		if err != nil {
			return nil, fmt.Errorf("failed to get video metadata from page: %w", err)
		}
	}

	return meta, nil
}

func (c *Client) lookupOEmbed(ctx context.Context, videoId string) (*Metadata, error) {
	url := fmt.Sprintf("https://www.youtube.com/oembed?url=https://www.youtube.com/watch?v=%s", videoId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound:
			return nil, ErrVideoNotFound
		case http.StatusUnauthorized:
			return nil, ErrVideoNotEmbeddable
		default:
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
	}

	var meta Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, err
	}

	return &meta, nil
}
