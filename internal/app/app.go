package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/roomcast/display/internal/backup"
	"github.com/roomcast/display/internal/channel"
	"github.com/roomcast/display/internal/controller"
	"github.com/roomcast/display/internal/diag"
	"github.com/roomcast/display/internal/playback"
	"github.com/roomcast/display/internal/player"
	"github.com/roomcast/display/internal/player/bridge"
	"github.com/roomcast/display/internal/repository/mediacache"
	mcinmemory "github.com/roomcast/display/internal/repository/mediacache/inmemory"
	mcredis "github.com/roomcast/display/internal/repository/mediacache/redis"
	"github.com/roomcast/display/pkg/ctxlogger"
	"github.com/roomcast/display/pkg/redisclient"
	"github.com/roomcast/display/pkg/videometa"
	"github.com/roomcast/display/pkg/wsclient"
)

const mediaCacheTTL = 15 * time.Minute

// countingChannel counts end-of-track reports on their way to the server.
type countingChannel struct {
	*channel.Client
	metrics *diag.Metrics
}

func (c *countingChannel) SendSongEnded(ctx context.Context, videoId string) error {
	c.metrics.SongsEnded.Inc()
	return c.Client.SendSongEnded(ctx, videoId)
}

type AppConfig struct {
	ServerURL         string `json:"server_url"`
	RoomId            string `json:"room_id"`
	IdleVideoId       string `json:"idle_video_id"`
	BackupBaseURL     string `json:"backup_base_url"`
	PrimarySurfaceURL string `json:"primary_surface_url"`
	BackupSurfaceURL  string `json:"backup_surface_url"`
	DiagAddr          string `json:"diag_addr"`
	LogLevel          string `json:"log_level"`
	DefaultVolume     int    `json:"default_volume"`
	RedisHost         string `json:"redis_host"`
	RedisPort         int    `json:"redis_port"`
	RedisPassword     string `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	if cfg.RoomId == "" {
		return fmt.Errorf("room id is required")
	}
	if cfg.IdleVideoId == "" {
		return fmt.Errorf("idle video id is required")
	}
	if cfg.BackupBaseURL == "" {
		return fmt.Errorf("backup base url is required")
	}
	if cfg.PrimarySurfaceURL == "" || cfg.BackupSurfaceURL == "" {
		return fmt.Errorf("surface urls are required")
	}
	if cfg.DefaultVolume < 0 || cfg.DefaultVolume > 100 {
		return fmt.Errorf("default volume must be within 0..100")
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		log.Fatal(err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}),
	}
	logger := slog.New(&h).With("roomId", cfg.RoomId)
	slog.SetDefault(logger)

	metrics := diag.NewMetrics()

	var cache mediacache.Repo
	if cfg.RedisHost != "" {
		rc, err := redisclient.NewRedisClient(&redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rc.Close()
		cache = mcredis.NewRepo(rc, mediaCacheTTL)
	} else {
		cache = mcinmemory.NewRepo(mediaCacheTTL)
	}

	fetcher := backup.NewFetcher(backup.FetcherConfig{BaseURL: cfg.BackupBaseURL}, nil, logger)
	failover := backup.NewManager(backup.Config{RoomId: cfg.RoomId}, fetcher, cache, logger)
	defer failover.Close()

	channelClient, err := channel.NewClient(&channel.Config{
		ServerURL: cfg.ServerURL,
		RoomId:    cfg.RoomId,
		OnState: func(state wsclient.ConnState) {
			if state.Connected {
				metrics.Connected.Set(1)
			} else {
				metrics.Connected.Set(0)
				metrics.Reconnects.Inc()
			}
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create channel client: %w", err)
	}

	primaryFactory := func(ctx context.Context, onEvent func(player.Event)) (player.Provider, error) {
		return bridge.Dial(ctx, cfg.PrimarySurfaceURL, onEvent, logger)
	}
	backupFactory := func(ctx context.Context, onEvent func(player.Event)) (player.Provider, error) {
		return bridge.Dial(ctx, cfg.BackupSurfaceURL, onEvent, logger)
	}

	primary := player.NewController(primaryFactory, player.ControllerConfig{}, player.NewQualityPolicy(logger), logger)
	backupSurface := player.NewBackupController(backupFactory)

	service := playback.NewService(playback.Config{
		IdleVideoId:   cfg.IdleVideoId,
		DefaultVolume: cfg.DefaultVolume,
	}, &countingChannel{Client: channelClient, metrics: metrics}, primary, backupSurface, failover, videometa.NewClient(nil), logger)
	defer service.Close()

	primary.SetHandlers(service.HandlePrimaryEvent, service.HandlePrimaryStuck)

	wasLoading := false
	failover.SetHandlers(backup.Handlers{
		OnStateChange: func(state backup.State) {
			if state.IsLoadingBackup && !wasLoading {
				metrics.FailoverCycles.Inc()
			}
			if state.BackupError {
				metrics.BackupFetchFailures.Inc()
			}
			wasLoading = state.IsLoadingBackup
			if state.BackupURL != "" && state.BackupReady {
				metrics.BackupAuthoritative.Set(1)
			} else {
				metrics.BackupAuthoritative.Set(0)
			}
		},
		OnBackupResolved: service.HandleBackupResolved,
		OnSelfHeal:       service.HandleSelfHeal,
	})

	controller.NewController(service).Register(channelClient)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig
		logger.Info("shutting down")
		stop()
	}()

	if err := primary.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start primary controller: %w", err)
	}
	defer primary.Close()

	if err := backupSurface.Start(runCtx, service.HandleBackupEvent); err != nil {
		return fmt.Errorf("failed to start backup controller: %w", err)
	}
	defer backupSurface.Close()

	if err := service.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start playback service: %w", err)
	}

	heartbeat := playback.NewHeartbeat(service, time.Second)
	go heartbeat.Run(runCtx)

	diagServer := diag.NewServer(cfg.DiagAddr, func() any { return service.Snapshot() }, channelClient.Connected, metrics, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- diagServer.Run(runCtx) }()
	go func() { errCh <- channelClient.Run(runCtx) }()

	slog.InfoContext(runCtx, "display client started", "server", cfg.ServerURL)

	select {
	case <-runCtx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
