package playback

// NowPlayingRecord is the server's assertion of what a room is playing and
// where playback was at a known server wall-clock instant. Replaced
// wholesale on every item change, never mutated.
type NowPlayingRecord struct {
	VideoId                    string  `json:"videoId"`
	Title                      string  `json:"title"`
	Thumbnail                  string  `json:"thumbnail"`
	Author                     string  `json:"author"`
	DurationSeconds            float64 `json:"durationSeconds"`
	ServerTimestampMs          int64   `json:"serverTimestampMs"`
	PositionAtTimestampSeconds float64 `json:"positionAtTimestampSeconds"`
}

// VideoState is the engine's merged view of playback. ActiveVideoId may hold
// the last-known id while NowPlaying is nil (data-loss window); otherwise
// NowPlaying.VideoId == ActiveVideoId.
type VideoState struct {
	NowPlaying    *NowPlayingRecord `json:"now_playing"`
	ActiveVideoId string            `json:"active_video_id"`
	IsPaused      bool              `json:"is_paused"`
	IsBuffering   bool              `json:"is_buffering"`
}

type Authority string

const (
	AuthorityPrimary Authority = "primary"
	AuthorityBackup  Authority = "backup"
)
