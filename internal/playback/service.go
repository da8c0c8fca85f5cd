package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomcast/display/internal/backup"
	"github.com/roomcast/display/internal/player"
	"github.com/roomcast/display/pkg/videometa"
)

type iChannel interface {
	RequestCurrentSong(ctx context.Context) error
	SendVideoEvent(ctx context.Context, event, videoId string, currentTime float64) error
	SendVideoReady(ctx context.Context, videoId string) error
	SendVideoError(ctx context.Context, videoId string, errorCode int, message string) error
	SendSongEnded(ctx context.Context, videoId string) error
	SendTimeUpdate(ctx context.Context, videoId string, currentTime, duration float64, isPlaying bool) error
}

type iSurface interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, volume int) error
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
	SetVisible(ctx context.Context, visible bool) error
	Position(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
}

type iPrimary interface {
	iSurface
	Load(ctx context.Context, videoId string, startSeconds float64) error
}

type iBackup interface {
	iSurface
	LoadURL(ctx context.Context, url string, startSeconds float64) error
}

type iFailover interface {
	Reset(videoId string)
	Trigger(videoId string)
	MarkLoaded(videoId string)
	PlaybackError(videoId string)
	State() backup.State
}

type iMetaLookup interface {
	Lookup(ctx context.Context, videoId string) (*videometa.Metadata, error)
}

type Config struct {
	// IdleVideoId is shown whenever no real item is active.
	IdleVideoId string
	// DataLossGrace is how long a vanished now-playing record may stay
	// missing before the display falls back to the idle state.
	DataLossGrace time.Duration
	// EchoGuard suppresses re-emitting a provider transition the server
	// itself just commanded.
	EchoGuard time.Duration
	// DebounceWindow coalesces duplicate provider state callbacks.
	DebounceWindow time.Duration
	// EndTailGateSeconds is subtracted from the backup media's duration
	// when detecting end of track (trailing silence artifact).
	EndTailGateSeconds float64
	// VolumeNoticeDuration is how long the volume acknowledgment stays up.
	VolumeNoticeDuration time.Duration
	DefaultVolume        int
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.DataLossGrace == 0 {
		out.DataLossGrace = 5 * time.Second
	}
	if out.EchoGuard == 0 {
		out.EchoGuard = 100 * time.Millisecond
	}
	if out.DebounceWindow == 0 {
		out.DebounceWindow = 100 * time.Millisecond
	}
	if out.EndTailGateSeconds == 0 {
		out.EndTailGateSeconds = 1.5
	}
	if out.VolumeNoticeDuration == 0 {
		out.VolumeNoticeDuration = 2 * time.Second
	}
	if out.DefaultVolume == 0 {
		out.DefaultVolume = 100
	}
	return out
}

// Snapshot is the read-only view the presentation layer consumes.
type Snapshot struct {
	Video         VideoState   `json:"video"`
	Backup        backup.State `json:"backup"`
	Authority     Authority    `json:"authority"`
	Volume        int          `json:"volume"`
	VolumeNotice  bool         `json:"volume_notice"`
	VideosEnabled bool         `json:"videos_enabled"`
	Recovering    bool         `json:"recovering"`
}

// service reconciles server assertions with local provider events into one
// VideoState, decides which surface is authoritative, and recovers from
// transient loss of now-playing data.
type service struct {
	mu sync.Mutex

	cfg      Config
	channel  iChannel
	primary  iPrimary
	backupPl iBackup
	failover iFailover
	meta     iMetaLookup
	log      *slog.Logger
	now      func() time.Time

	video         VideoState
	endedReported bool
	recovering    bool
	recoverTimer  *time.Timer
	// reloadOnNextRecord forces the next current_song through the full load
	// path even for an unchanged id (set by self-heal).
	reloadOnNextRecord bool

	lastCommanded  map[string]time.Time
	lastLocalEvent map[string]time.Time

	volume            int
	videosEnabled     bool
	volumeNotice      bool
	volumeNoticeTimer *time.Timer
}

func NewService(cfg Config, ch iChannel, primary iPrimary, backupPl iBackup, failover iFailover, meta iMetaLookup, log *slog.Logger) *service {
	return &service{
		cfg:            cfg.withDefaults(),
		channel:        ch,
		primary:        primary,
		backupPl:       backupPl,
		failover:       failover,
		meta:           meta,
		log:            log,
		now:            time.Now,
		volume:         cfg.withDefaults().DefaultVolume,
		videosEnabled:  true,
		lastCommanded:  make(map[string]time.Time),
		lastLocalEvent: make(map[string]time.Time),
	}
}

// Start shows the idle welcome item until the server asserts a real one.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.markCommandedLocked("load")
	s.mu.Unlock()

	if err := s.primary.Load(ctx, s.cfg.IdleVideoId, 0); err != nil {
		s.log.WarnContext(ctx, "failed to load idle item", "error", err)
	}
	return nil
}

func (s *service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Video:         s.video,
		Backup:        s.failover.State(),
		Authority:     s.authorityLocked(),
		Volume:        s.volume,
		VolumeNotice:  s.volumeNotice,
		VideosEnabled: s.videosEnabled,
		Recovering:    s.recovering,
	}
}

func (s *service) Authority() Authority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorityLocked()
}

// authorityLocked derives which surface drives the viewer: the backup only
// once its url is fetched and its own loaded signal fired.
func (s *service) authorityLocked() Authority {
	st := s.failover.State()
	if st.BackupURL != "" && st.BackupReady {
		return AuthorityBackup
	}
	return AuthorityPrimary
}

// HandleCurrentSong applies a current_song/play_song assertion. Replays of
// an unchanged item are no-ops; a nil record opens the data-loss window.
func (s *service) HandleCurrentSong(ctx context.Context, record *NowPlayingRecord) {
	if record == nil {
		s.handleDataLoss(ctx)
		return
	}

	s.mu.Lock()
	s.stopRecoveryLocked()

	forceReload := s.reloadOnNextRecord
	s.reloadOnNextRecord = false

	if !forceReload && s.video.ActiveVideoId == record.VideoId {
		if s.video.NowPlaying == nil {
			// Server recovered inside the data-loss window: restore the
			// record without disturbing running playback.
			rec := *record
			s.video.NowPlaying = &rec
			s.mu.Unlock()
			s.log.InfoContext(ctx, "now playing record restored", "videoId", record.VideoId)
			return
		}
		// Replay of an unchanged item.
		s.mu.Unlock()
		return
	}

	rec := *record
	s.video = VideoState{NowPlaying: &rec, ActiveVideoId: rec.VideoId}
	s.endedReported = false
	start := TargetPosition(&rec, s.now())
	s.markCommandedLocked("load")
	s.markCommandedLocked("play")
	videosEnabled := s.videosEnabled
	s.mu.Unlock()

	s.log.InfoContext(ctx, "switching item", "videoId", rec.VideoId, "start", start)

	// New item: the primary gets a fresh chance, restored to the front. If
	// the backup held authority it keeps playing the old media otherwise.
	s.failover.Reset(rec.VideoId)
	s.demoteBackup(ctx)
	if videosEnabled {
		if err := s.primary.SetVisible(ctx, true); err != nil {
			s.log.DebugContext(ctx, "failed to show primary", "error", err)
		}
		if err := s.primary.Unmute(ctx); err != nil {
			s.log.DebugContext(ctx, "failed to unmute primary", "error", err)
		}
	}
	if err := s.primary.Load(ctx, rec.VideoId, start); err != nil {
		s.log.WarnContext(ctx, "failed to load item on primary", "error", err)
	}

	if rec.Title == "" && s.meta != nil {
		go s.enrichMetadata(rec.VideoId)
	}
}

// enrichMetadata fills in display fields the server omitted. Best effort,
// never touches playback.
func (s *service) enrichMetadata(videoId string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, err := s.meta.Lookup(ctx, videoId)
	if err != nil {
		s.log.Debug("metadata lookup failed", "videoId", videoId, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.video.NowPlaying == nil || s.video.NowPlaying.VideoId != videoId {
		return
	}
	rec := *s.video.NowPlaying
	if rec.Title == "" {
		rec.Title = meta.Title
	}
	if rec.Author == "" {
		rec.Author = meta.Author
	}
	if rec.Thumbnail == "" {
		rec.Thumbnail = meta.ThumbnailURL
	}
	s.video.NowPlaying = &rec
}

// handleDataLoss runs when the server's record vanished while an item is
// still believed active: hold the last-known id, re-request once, and only
// drop to idle after the grace window passes unanswered.
func (s *service) handleDataLoss(ctx context.Context) {
	s.mu.Lock()

	if s.video.ActiveVideoId == "" {
		s.mu.Unlock()
		return
	}
	if s.recovering {
		s.mu.Unlock()
		return
	}

	s.video.NowPlaying = nil
	s.recovering = true
	s.recoverTimer = time.AfterFunc(s.cfg.DataLossGrace, s.abandonRecovery)
	videoId := s.video.ActiveVideoId
	s.mu.Unlock()

	s.log.WarnContext(ctx, "now playing record lost, holding last known item", "videoId", videoId)
	if err := s.channel.RequestCurrentSong(ctx); err != nil {
		s.log.WarnContext(ctx, "failed to re-request current song", "error", err)
	}
}

func (s *service) abandonRecovery() {
	s.mu.Lock()
	if !s.recovering {
		s.mu.Unlock()
		return
	}
	s.recovering = false
	s.recoverTimer = nil
	s.mu.Unlock()

	s.log.Warn("no response within data-loss grace, falling back to idle")
	s.clearToIdle(context.Background())
}

// HandleNowPlayingCleared clears the record explicitly.
func (s *service) HandleNowPlayingCleared(ctx context.Context) {
	s.mu.Lock()
	s.stopRecoveryLocked()
	s.mu.Unlock()

	s.clearToIdle(ctx)
}

func (s *service) clearToIdle(ctx context.Context) {
	s.mu.Lock()
	s.video = VideoState{}
	s.endedReported = false
	s.markCommandedLocked("load")
	s.mu.Unlock()

	s.failover.Reset("")
	s.demoteBackup(ctx)
	if err := s.primary.SetVisible(ctx, true); err != nil {
		s.log.DebugContext(ctx, "failed to show primary", "error", err)
	}
	if err := s.primary.Load(ctx, s.cfg.IdleVideoId, 0); err != nil {
		s.log.WarnContext(ctx, "failed to load idle item", "error", err)
	}
}

// demoteBackup silences and hides the backup surface so it cannot play over
// whatever the primary shows next.
func (s *service) demoteBackup(ctx context.Context) {
	if err := s.backupPl.Mute(ctx); err != nil {
		s.log.DebugContext(ctx, "failed to mute backup", "error", err)
	}
	if err := s.backupPl.Pause(ctx); err != nil {
		s.log.DebugContext(ctx, "failed to pause backup", "error", err)
	}
	if err := s.backupPl.SetVisible(ctx, false); err != nil {
		s.log.DebugContext(ctx, "failed to hide backup", "error", err)
	}
}

// HandleServerVideoEvent routes a playback command to whichever surface is
// currently authoritative. Commands never flip authority by themselves.
func (s *service) HandleServerVideoEvent(ctx context.Context, event string, currentTime float64) {
	s.mu.Lock()
	s.markCommandedLocked(event)
	authority := s.authorityLocked()
	s.mu.Unlock()

	target := s.surface(authority)

	var err error
	switch event {
	case "play":
		err = target.Play(ctx)
	case "pause":
		err = target.Pause(ctx)
	case "seek":
		err = target.Seek(ctx, currentTime)
	}
	if err != nil {
		s.log.WarnContext(ctx, "failed to apply server video event", "event", event, "authority", authority, "error", err)
	}
}

// HandleVolumeChange applies the room volume to both surfaces and raises the
// acknowledgment notice. The hide timer is not extended by further changes
// inside the window.
func (s *service) HandleVolumeChange(ctx context.Context, volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	s.mu.Lock()
	s.volume = volume
	if !s.volumeNotice {
		s.volumeNotice = true
		s.volumeNoticeTimer = time.AfterFunc(s.cfg.VolumeNoticeDuration, func() {
			s.mu.Lock()
			s.volumeNotice = false
			s.volumeNoticeTimer = nil
			s.mu.Unlock()
		})
	}
	s.mu.Unlock()

	if err := s.primary.SetVolume(ctx, volume); err != nil {
		s.log.DebugContext(ctx, "failed to set primary volume", "error", err)
	}
	if err := s.backupPl.SetVolume(ctx, volume); err != nil {
		s.log.DebugContext(ctx, "failed to set backup volume", "error", err)
	}
}

// HandleVideosTurnedOff demotes both surfaces to an audio keep-alive:
// muted, hidden, still running.
func (s *service) HandleVideosTurnedOff(ctx context.Context) {
	s.mu.Lock()
	s.videosEnabled = false
	s.mu.Unlock()

	for _, surface := range []iSurface{s.primary, s.backupPl} {
		if err := surface.Mute(ctx); err != nil {
			s.log.DebugContext(ctx, "failed to mute surface", "error", err)
		}
		if err := surface.SetVisible(ctx, false); err != nil {
			s.log.DebugContext(ctx, "failed to hide surface", "error", err)
		}
	}
}

// HandleVideosTurnedOn restores the authoritative surface and re-requests
// state to resync position.
func (s *service) HandleVideosTurnedOn(ctx context.Context) {
	s.mu.Lock()
	s.videosEnabled = true
	authority := s.authorityLocked()
	s.mu.Unlock()

	target := s.surface(authority)
	if err := target.SetVisible(ctx, true); err != nil {
		s.log.DebugContext(ctx, "failed to show surface", "error", err)
	}
	if err := target.Unmute(ctx); err != nil {
		s.log.DebugContext(ctx, "failed to unmute surface", "error", err)
	}

	if err := s.channel.RequestCurrentSong(ctx); err != nil {
		s.log.WarnContext(ctx, "failed to re-request current song", "error", err)
	}
}

// HandlePrimaryEvent consumes the primary controller's normalized events.
func (s *service) HandlePrimaryEvent(ev player.Event) {
	ctx := context.Background()

	s.mu.Lock()
	if s.debounceLocked("primary", ev) {
		s.mu.Unlock()
		return
	}
	videoId := s.video.ActiveVideoId
	record := s.video.NowPlaying
	authority := s.authorityLocked()

	switch ev.Type {
	case player.EventReady:
		// Discrete restart: resync to the server clock now, not when the
		// assertion arrived.
		var start float64
		if record != nil {
			start = TargetPosition(record, s.now())
		}
		s.markCommandedLocked("seek")
		s.markCommandedLocked("play")
		s.mu.Unlock()

		if record != nil && authority == AuthorityPrimary {
			if err := s.primary.Seek(ctx, start); err != nil {
				s.log.Warn("failed to seek primary on ready", "error", err)
			}
			if err := s.primary.Play(ctx); err != nil {
				s.log.Warn("failed to play primary on ready", "error", err)
			}
		}
		if videoId != "" {
			if err := s.channel.SendVideoReady(ctx, videoId); err != nil {
				s.log.Debug("failed to report video ready", "error", err)
			}
		}
	case player.EventPlaying:
		s.video.IsPaused = false
		s.video.IsBuffering = false
		echo := s.isEchoLocked("play")
		s.mu.Unlock()

		if !echo && authority == AuthorityPrimary && videoId != "" {
			pos, _ := s.primary.Position(ctx)
			if err := s.channel.SendVideoEvent(ctx, "play", videoId, pos); err != nil {
				s.log.Debug("failed to emit play event", "error", err)
			}
		}
	case player.EventPaused:
		s.video.IsPaused = true
		echo := s.isEchoLocked("pause")
		s.mu.Unlock()

		if !echo && authority == AuthorityPrimary && videoId != "" {
			pos, _ := s.primary.Position(ctx)
			if err := s.channel.SendVideoEvent(ctx, "pause", videoId, pos); err != nil {
				s.log.Debug("failed to emit pause event", "error", err)
			}
		}
	case player.EventBuffering:
		s.video.IsBuffering = true
		s.mu.Unlock()
	case player.EventEnded:
		s.mu.Unlock()
		if authority == AuthorityPrimary {
			s.reportEnded(ctx, videoId)
		}
	case player.EventError:
		s.mu.Unlock()
		s.log.Warn("primary provider error", "videoId", videoId, "code", ev.ErrorCode, "message", ev.Message)
		if videoId != "" {
			if err := s.channel.SendVideoError(ctx, videoId, ev.ErrorCode, ev.Message); err != nil {
				s.log.Debug("failed to report video error", "error", err)
			}
			s.failover.Trigger(videoId)
		}
	default:
		s.mu.Unlock()
	}
}

// HandlePrimaryStuck is the stuck-start watchdog callback.
func (s *service) HandlePrimaryStuck(videoId string) {
	ctx := context.Background()

	s.mu.Lock()
	active := s.video.ActiveVideoId
	s.mu.Unlock()

	if active == "" || active != videoId {
		return
	}

	if err := s.channel.SendVideoError(ctx, videoId, 0, "stuck start: unstarted past grace window"); err != nil {
		s.log.Debug("failed to report stuck start", "error", err)
	}
	s.failover.Trigger(videoId)
}

// HandleBackupEvent consumes the backup surface's events.
func (s *service) HandleBackupEvent(ev player.Event) {
	ctx := context.Background()

	s.mu.Lock()
	if s.debounceLocked("backup", ev) {
		s.mu.Unlock()
		return
	}
	videoId := s.video.ActiveVideoId
	record := s.video.NowPlaying
	authority := s.authorityLocked()

	switch ev.Type {
	case player.EventReady:
		// The backup media's own loaded signal: authority may switch with
		// no black-frame gap. Resync to the clock before playing.
		var start float64
		if record != nil {
			start = TargetPosition(record, s.now())
		}
		videosEnabled := s.videosEnabled
		s.markCommandedLocked("seek")
		s.markCommandedLocked("play")
		s.mu.Unlock()

		s.failover.MarkLoaded(videoId)

		if err := s.backupPl.Seek(ctx, start); err != nil {
			s.log.Warn("failed to seek backup on loaded", "error", err)
		}
		if videosEnabled {
			if err := s.backupPl.SetVisible(ctx, true); err != nil {
				s.log.Debug("failed to show backup", "error", err)
			}
			if err := s.backupPl.Unmute(ctx); err != nil {
				s.log.Debug("failed to unmute backup", "error", err)
			}
		}
		if err := s.backupPl.Play(ctx); err != nil {
			s.log.Warn("failed to play backup", "error", err)
		}
	case player.EventPlaying:
		if authority == AuthorityBackup {
			s.video.IsPaused = false
			s.video.IsBuffering = false
		}
		s.mu.Unlock()
	case player.EventPaused:
		if authority == AuthorityBackup {
			s.video.IsPaused = true
		}
		s.mu.Unlock()
	case player.EventBuffering:
		if authority == AuthorityBackup {
			s.video.IsBuffering = true
		}
		s.mu.Unlock()
	case player.EventEnded:
		s.mu.Unlock()
		if authority == AuthorityBackup {
			s.reportEnded(ctx, videoId)
		}
	case player.EventError:
		s.mu.Unlock()
		s.log.Warn("backup media error", "videoId", videoId, "code", ev.ErrorCode, "message", ev.Message)
		if videoId != "" {
			s.failover.PlaybackError(videoId)
		}
	default:
		s.mu.Unlock()
	}
}

// HandleBackupResolved runs the handoff choreography once a backup url is
// fetched: mute and pause the primary (it may be needed again), demote it
// visually, and start the backup at the reconciled position.
func (s *service) HandleBackupResolved(videoId, url string) {
	ctx := context.Background()

	s.mu.Lock()
	if s.video.ActiveVideoId != videoId {
		s.mu.Unlock()
		s.log.Info("ignoring backup url for stale item", "videoId", videoId)
		return
	}
	record := s.video.NowPlaying
	s.markCommandedLocked("pause")
	s.mu.Unlock()

	if err := s.primary.Mute(ctx); err != nil {
		s.log.Debug("failed to mute primary for handoff", "error", err)
	}
	if err := s.primary.Pause(ctx); err != nil {
		s.log.Debug("failed to pause primary for handoff", "error", err)
	}
	if err := s.primary.SetVisible(ctx, false); err != nil {
		s.log.Debug("failed to demote primary for handoff", "error", err)
	}

	var start float64
	if record != nil {
		start = TargetPosition(record, s.now())
	}
	if err := s.backupPl.LoadURL(ctx, url, start); err != nil {
		s.log.Warn("failed to load backup media", "error", err)
		s.failover.PlaybackError(videoId)
	}
}

// HandleSelfHeal gives the primary another chance after a prolonged failed
// window: the next current_song goes through the full load path even if the
// item is unchanged.
func (s *service) HandleSelfHeal() {
	ctx := context.Background()

	s.mu.Lock()
	s.reloadOnNextRecord = true
	s.mu.Unlock()

	if err := s.channel.RequestCurrentSong(ctx); err != nil {
		s.log.Warn("failed to re-request current song for self-heal", "error", err)
	}
}

func (s *service) reportEnded(ctx context.Context, videoId string) {
	s.mu.Lock()
	if videoId == "" || videoId != s.video.ActiveVideoId || s.endedReported {
		s.mu.Unlock()
		return
	}
	s.endedReported = true
	s.mu.Unlock()

	s.log.InfoContext(ctx, "end of track", "videoId", videoId)
	if err := s.channel.SendSongEnded(ctx, videoId); err != nil {
		s.log.Warn("failed to report song ended", "error", err)
	}
}

// Tick is the 1s telemetry beat: report position from the authoritative
// surface and detect end of track.
func (s *service) Tick(ctx context.Context) {
	s.mu.Lock()
	videoId := s.video.ActiveVideoId
	record := s.video.NowPlaying
	paused := s.video.IsPaused
	authority := s.authorityLocked()
	s.mu.Unlock()

	if videoId == "" || record == nil || paused {
		return
	}

	target := s.surface(authority)
	pos, err := target.Position(ctx)
	if err != nil {
		return
	}
	dur, err := target.Duration(ctx)
	if err != nil || dur <= 0 {
		dur = record.DurationSeconds
	}

	if err := s.channel.SendTimeUpdate(ctx, videoId, pos, dur, !paused); err != nil {
		s.log.Debug("failed to send time update", "error", err)
	}

	if dur <= 0 {
		return
	}
	threshold := dur
	if authority == AuthorityBackup {
		// Backup files commonly carry trailing silence.
		threshold = dur - s.cfg.EndTailGateSeconds
	}
	if pos >= threshold {
		s.reportEnded(ctx, videoId)
	}
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRecoveryLocked()
	if s.volumeNoticeTimer != nil {
		s.volumeNoticeTimer.Stop()
		s.volumeNoticeTimer = nil
	}
}

func (s *service) surface(authority Authority) iSurface {
	if authority == AuthorityBackup {
		return s.backupPl
	}
	return s.primary
}

func (s *service) stopRecoveryLocked() {
	s.recovering = false
	if s.recoverTimer != nil {
		s.recoverTimer.Stop()
		s.recoverTimer = nil
	}
}

func (s *service) markCommandedLocked(action string) {
	s.lastCommanded[action] = s.now()
}

// isEchoLocked reports whether a provider transition is the echo of an
// action the server just commanded.
func (s *service) isEchoLocked(action string) bool {
	t, ok := s.lastCommanded[action]
	return ok && s.now().Sub(t) <= s.cfg.EchoGuard
}

// debounceLocked coalesces duplicate provider callbacks: providers
// sometimes fire the same transition twice back to back.
func (s *service) debounceLocked(source string, ev player.Event) bool {
	key := source + ":" + string(ev.Type)
	now := s.now()
	if last, ok := s.lastLocalEvent[key]; ok && now.Sub(last) < s.cfg.DebounceWindow {
		return true
	}
	s.lastLocalEvent[key] = now
	return false
}
