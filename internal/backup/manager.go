package backup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roomcast/display/internal/repository/mediacache"
)

// State is the externally visible failover state. At most one of
// IsLoadingBackup/BackupReady/BackupError is true; BackupURL != "" implies
// PrimaryFailed.
type State struct {
	BackupURL       string `json:"backup_url"`
	IsLoadingBackup bool   `json:"is_loading_backup"`
	BackupError     bool   `json:"backup_error"`
	BackupReady     bool   `json:"backup_ready"`
	PrimaryFailed   bool   `json:"primary_failed"`
}

type phase int

const (
	phaseIdle phase = iota
	phaseLoading
	phaseReady
	phaseError
)

type fetcher interface {
	Fetch(ctx context.Context, roomId, videoId string) (string, error)
}

type Config struct {
	RoomId        string
	RateLimit     time.Duration
	RetryDelay    time.Duration
	FetchTimeout  time.Duration
	SelfHealAfter time.Duration
	// MaxCycles bounds failovers per item: the initial cycle plus one more
	// after a backup playback error.
	MaxCycles int
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.RateLimit == 0 {
		out.RateLimit = 5 * time.Second
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = 2 * time.Second
	}
	if out.FetchTimeout == 0 {
		out.FetchTimeout = 20 * time.Second
	}
	if out.SelfHealAfter == 0 {
		out.SelfHealAfter = 30 * time.Second
	}
	if out.MaxCycles == 0 {
		out.MaxCycles = 2
	}
	return out
}

type Handlers struct {
	// OnStateChange publishes every state transition (read-only consumers).
	OnStateChange func(State)
	// OnBackupResolved starts the handoff choreography: mute and demote the
	// primary, load the url into the backup surface. Authority does not flip
	// until MarkLoaded.
	OnBackupResolved func(videoId, url string)
	// OnSelfHeal asks the server for the current item again after the
	// engine sat failed with no backup for SelfHealAfter.
	OnSelfHeal func()
}

// Manager owns the decision to abandon the primary provider for an item and
// the lifecycle of the backup url fetch. One cycle in flight per item.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	fetcher  fetcher
	cache    mediacache.Repo
	handlers Handlers
	log      *slog.Logger
	now      func() time.Time

	phase         phase
	url           string
	ready         bool
	primaryFailed bool
	videoId       string
	cycles        int
	retried       bool
	lastFetchAt   time.Time

	gen         int
	fetchCancel context.CancelFunc
	retryTimer  *time.Timer
	healTimer   *time.Timer
}

func NewManager(cfg Config, f fetcher, cache mediacache.Repo, log *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		fetcher: f,
		cache:   cache,
		log:     log,
		now:     time.Now,
	}
}

// SetHandlers must be called before the manager receives any trigger.
func (m *Manager) SetHandlers(h Handlers) {
	m.handlers = h
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	return State{
		BackupURL:       m.url,
		IsLoadingBackup: m.phase == phaseLoading,
		BackupError:     m.phase == phaseError,
		BackupReady:     m.ready,
		PrimaryFailed:   m.primaryFailed,
	}
}

// Reset clears all failover state for a new active item. The new item gets
// a fresh chance on the primary provider.
func (m *Manager) Reset(videoId string) {
	m.mu.Lock()
	m.cancelFetchLocked()
	m.stopTimersLocked()
	m.phase = phaseIdle
	m.url = ""
	m.ready = false
	m.primaryFailed = false
	m.retried = false
	m.cycles = 0
	m.lastFetchAt = time.Time{}
	m.videoId = videoId
	m.gen++
	state := m.stateLocked()
	m.mu.Unlock()

	m.publish(state)
}

// Trigger reports a primary failure for an item. Idempotent while a cycle
// for the same item is loading or ready, rate-limited against rapid
// duplicate error signals, and bounded by the per-item cycle budget.
func (m *Manager) Trigger(videoId string) {
	m.mu.Lock()

	if videoId == "" || videoId != m.videoId {
		m.mu.Unlock()
		return
	}
	if m.phase == phaseLoading || (m.phase == phaseReady && m.url != "") {
		m.mu.Unlock()
		return
	}
	if m.cycles >= m.cfg.MaxCycles {
		m.mu.Unlock()
		return
	}
	if !m.lastFetchAt.IsZero() && m.now().Sub(m.lastFetchAt) < m.cfg.RateLimit {
		m.mu.Unlock()
		return
	}

	state := m.startCycleLocked(videoId)
	m.mu.Unlock()

	m.publish(state)
}

// startCycleLocked flips into Loading and spawns the fetch.
func (m *Manager) startCycleLocked(videoId string) State {
	m.primaryFailed = true
	m.phase = phaseLoading
	m.ready = false
	m.retried = false
	m.cycles++
	m.lastFetchAt = m.now()
	m.gen++
	gen := m.gen

	m.armHealLocked()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
	m.fetchCancel = cancel
	go m.fetch(ctx, gen, videoId)

	m.log.Warn("failover cycle started", "videoId", videoId, "cycle", m.cycles)
	return m.stateLocked()
}

func (m *Manager) fetch(ctx context.Context, gen int, videoId string) {
	if m.cache != nil {
		if url, err := m.cache.GetURL(ctx, m.cfg.RoomId, videoId); err == nil {
			m.complete(gen, videoId, url)
			return
		} else if !errors.Is(err, mediacache.ErrNotFound) {
			m.log.Debug("mediacache lookup failed", "error", err)
		}
	}

	url, err := m.fetcher.Fetch(ctx, m.cfg.RoomId, videoId)
	if err != nil {
		m.fail(gen, videoId, err)
		return
	}

	if m.cache != nil {
		if err := m.cache.SetURL(ctx, m.cfg.RoomId, videoId, url); err != nil {
			m.log.Debug("mediacache store failed", "error", err)
		}
	}

	m.complete(gen, videoId, url)
}

func (m *Manager) complete(gen int, videoId, url string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.log.Info("discarding stale backup fetch result", "videoId", videoId)
		return
	}

	m.phase = phaseReady
	m.url = url
	m.ready = false
	m.cancelFetchLocked()
	state := m.stateLocked()
	m.mu.Unlock()

	m.log.Info("backup url resolved", "videoId", videoId)
	m.publish(state)
	if m.handlers.OnBackupResolved != nil {
		m.handlers.OnBackupResolved(videoId, url)
	}
}

func (m *Manager) fail(gen int, videoId string, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.phase = phaseError
	m.cancelFetchLocked()

	// One silent auto-retry per cycle, iff the triggering condition still
	// holds when the delay elapses.
	if !m.retried {
		m.retried = true
		m.retryTimer = time.AfterFunc(m.cfg.RetryDelay, m.autoRetry)
	}

	state := m.stateLocked()
	m.mu.Unlock()

	m.log.Warn("backup fetch failed", "videoId", videoId, "error", err)
	m.publish(state)
}

func (m *Manager) autoRetry() {
	m.mu.Lock()
	if m.phase != phaseError || !m.primaryFailed || m.url != "" {
		m.mu.Unlock()
		return
	}

	m.phase = phaseLoading
	m.lastFetchAt = m.now()
	m.gen++
	gen := m.gen
	videoId := m.videoId

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
	m.fetchCancel = cancel
	go m.fetch(ctx, gen, videoId)

	state := m.stateLocked()
	m.mu.Unlock()

	m.log.Info("retrying backup fetch", "videoId", videoId)
	m.publish(state)
}

// MarkLoaded flips authority to the backup: the backup media's own loaded
// signal fired, so switching now leaves no black-frame gap.
func (m *Manager) MarkLoaded(videoId string) {
	m.mu.Lock()
	if videoId != m.videoId || m.url == "" {
		m.mu.Unlock()
		return
	}

	m.ready = true
	m.stopHealLocked()
	state := m.stateLocked()
	m.mu.Unlock()

	m.log.Info("backup media ready, authority switched", "videoId", videoId)
	m.publish(state)
}

// PlaybackError handles the backup media itself failing: back to Idle with
// the url cleared, then at most one more cycle for this item.
func (m *Manager) PlaybackError(videoId string) {
	m.mu.Lock()
	if videoId != m.videoId {
		m.mu.Unlock()
		return
	}

	m.phase = phaseIdle
	m.url = ""
	m.ready = false
	m.retried = false

	if m.cycles >= m.cfg.MaxCycles {
		state := m.stateLocked()
		m.mu.Unlock()
		m.log.Warn("backup playback failed, cycle budget exhausted", "videoId", videoId)
		m.publish(state)
		return
	}

	state := m.startCycleLocked(videoId)
	m.mu.Unlock()

	m.log.Warn("backup playback failed, starting final cycle", "videoId", videoId)
	m.publish(state)
}

// armHealLocked (re)starts the self-heal window: if the engine is still
// failed with no backup url and no fetch in flight when it fires, the
// primary gets another chance.
func (m *Manager) armHealLocked() {
	m.stopHealLocked()
	m.healTimer = time.AfterFunc(m.cfg.SelfHealAfter, m.selfHeal)
}

func (m *Manager) selfHeal() {
	m.mu.Lock()
	if !m.primaryFailed || m.url != "" {
		m.mu.Unlock()
		return
	}
	if m.phase == phaseLoading {
		// Fetch still in flight, check again later.
		m.armHealLocked()
		m.mu.Unlock()
		return
	}

	m.primaryFailed = false
	m.phase = phaseIdle
	m.ready = false
	m.retried = false
	m.cycles = 0
	state := m.stateLocked()
	m.mu.Unlock()

	m.log.Info("self-heal: clearing failed state and re-requesting item")
	m.publish(state)
	if m.handlers.OnSelfHeal != nil {
		m.handlers.OnSelfHeal()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	m.cancelFetchLocked()
	m.stopTimersLocked()
	m.mu.Unlock()
}

func (m *Manager) cancelFetchLocked() {
	if m.fetchCancel != nil {
		m.fetchCancel()
		m.fetchCancel = nil
	}
}

func (m *Manager) stopTimersLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.stopHealLocked()
}

func (m *Manager) stopHealLocked() {
	if m.healTimer != nil {
		m.healTimer.Stop()
		m.healTimer = nil
	}
}

func (m *Manager) publish(state State) {
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(state)
	}
}
