package channel

// Inbound message types.
const (
	MsgCurrentSong       = "current_song"
	MsgPlaySong          = "play_song"
	MsgVideoEvent        = "video_event"
	MsgNowPlayingCleared = "now_playing_cleared"
	MsgVolumeChange      = "volumeChange"
	MsgVideosTurnedOff   = "videos_turned_off"
	MsgVideosTurnedOn    = "videos_turned_on"
)

// Outbound message types.
const (
	msgRequestCurrentSong = "request_current_song"
	msgVideoEvent         = "video_event"
	msgVideoReady         = "video_ready"
	msgVideoError         = "video_error"
	msgSongEnded          = "song_ended"
	msgTimeUpdate         = "time_update"
	msgHeartbeat          = "heartbeat"
)

// NowPlayingPayload is the wire shape of current_song/play_song. A null
// payload means the server has no record for the room.
type NowPlayingPayload struct {
	VideoId                    string  `json:"videoId" validate:"required"`
	Title                      string  `json:"title"`
	Thumbnail                  string  `json:"thumbnail"`
	Author                     string  `json:"author"`
	DurationSeconds            float64 `json:"durationSeconds"`
	ServerTimestampMs          int64   `json:"serverTimestampMs" validate:"required"`
	PositionAtTimestampSeconds float64 `json:"positionAtTimestampSeconds"`
}

// VideoEventPayload is an inbound playback command.
type VideoEventPayload struct {
	Event       string  `json:"event" validate:"required,oneof=play pause seek"`
	CurrentTime float64 `json:"currentTime"`
}

type requestCurrentSongPayload struct {
	RoomId   string `json:"roomId"`
	ClientId string `json:"clientId"`
}

type videoEventOutPayload struct {
	RoomId      string  `json:"roomId"`
	Event       string  `json:"event"`
	VideoId     string  `json:"videoId"`
	CurrentTime float64 `json:"currentTime"`
	ClientId    string  `json:"clientId"`
}

type videoReadyPayload struct {
	RoomId  string `json:"roomId"`
	VideoId string `json:"videoId"`
}

type videoErrorPayload struct {
	RoomId    string `json:"roomId"`
	VideoId   string `json:"videoId"`
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}

type songEndedPayload struct {
	RoomId  string `json:"roomId"`
	VideoId string `json:"videoId"`
}

type timeUpdatePayload struct {
	RoomId      string  `json:"roomId"`
	VideoId     string  `json:"videoId"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	IsPlaying   bool    `json:"isPlaying"`
}

type heartbeatPayload struct {
	RoomId string `json:"roomId"`
}
