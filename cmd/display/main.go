package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roomcast/display/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	serverURL = configVar[string]{
		envKey:       "DISPLAY_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "ws://localhost:8080/ws",
	}
	roomId = configVar[string]{
		envKey:       "DISPLAY_ROOM_ID",
		flagKey:      "room-id",
		defaultValue: "",
	}
	idleVideoId = configVar[string]{
		envKey:       "DISPLAY_IDLE_VIDEO_ID",
		flagKey:      "idle-video-id",
		defaultValue: "dQw4w9WgXcQ",
	}
	backupBaseURL = configVar[string]{
		envKey:       "DISPLAY_BACKUP_BASE_URL",
		flagKey:      "backup-base-url",
		defaultValue: "http://localhost:8080",
	}
	primarySurfaceURL = configVar[string]{
		envKey:       "DISPLAY_PRIMARY_SURFACE_URL",
		flagKey:      "primary-surface-url",
		defaultValue: "ws://localhost:9222/surface/primary",
	}
	backupSurfaceURL = configVar[string]{
		envKey:       "DISPLAY_BACKUP_SURFACE_URL",
		flagKey:      "backup-surface-url",
		defaultValue: "ws://localhost:9222/surface/backup",
	}
	diagAddr = configVar[string]{
		envKey:       "DISPLAY_DIAG_ADDR",
		flagKey:      "diag-addr",
		defaultValue: "127.0.0.1:8090",
	}
	logLevel = configVar[string]{
		envKey:       "DISPLAY_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	defaultVolume = configVar[int]{
		envKey:       "DISPLAY_DEFAULT_VOLUME",
		flagKey:      "default-volume",
		defaultValue: 100,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, "Event channel server url")
	pflag.String(roomId.flagKey, roomId.defaultValue, "Room to join")
	pflag.String(idleVideoId.flagKey, idleVideoId.defaultValue, "Fallback item shown when nothing is playing")
	pflag.String(backupBaseURL.flagKey, backupBaseURL.defaultValue, "Backup media endpoint base url")
	pflag.String(primarySurfaceURL.flagKey, primarySurfaceURL.defaultValue, "Primary render surface control url")
	pflag.String(backupSurfaceURL.flagKey, backupSurfaceURL.defaultValue, "Backup render surface control url")
	pflag.String(diagAddr.flagKey, diagAddr.defaultValue, "Diagnostics listen address")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Int(defaultVolume.flagKey, defaultVolume.defaultValue, "Initial volume")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host for the shared media cache (optional)")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(serverURL.flagKey, serverURL.envKey)
	viper.BindEnv(roomId.flagKey, roomId.envKey)
	viper.BindEnv(idleVideoId.flagKey, idleVideoId.envKey)
	viper.BindEnv(backupBaseURL.flagKey, backupBaseURL.envKey)
	viper.BindEnv(primarySurfaceURL.flagKey, primarySurfaceURL.envKey)
	viper.BindEnv(backupSurfaceURL.flagKey, backupSurfaceURL.envKey)
	viper.BindEnv(diagAddr.flagKey, diagAddr.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(defaultVolume.flagKey, defaultVolume.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)

	viper.SetDefault(serverURL.flagKey, serverURL.defaultValue)
	viper.SetDefault(roomId.flagKey, roomId.defaultValue)
	viper.SetDefault(idleVideoId.flagKey, idleVideoId.defaultValue)
	viper.SetDefault(backupBaseURL.flagKey, backupBaseURL.defaultValue)
	viper.SetDefault(primarySurfaceURL.flagKey, primarySurfaceURL.defaultValue)
	viper.SetDefault(backupSurfaceURL.flagKey, backupSurfaceURL.defaultValue)
	viper.SetDefault(diagAddr.flagKey, diagAddr.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(defaultVolume.flagKey, defaultVolume.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)

	return &app.AppConfig{
		ServerURL:         viper.GetString(serverURL.flagKey),
		RoomId:            viper.GetString(roomId.flagKey),
		IdleVideoId:       viper.GetString(idleVideoId.flagKey),
		BackupBaseURL:     viper.GetString(backupBaseURL.flagKey),
		PrimarySurfaceURL: viper.GetString(primarySurfaceURL.flagKey),
		BackupSurfaceURL:  viper.GetString(backupSurfaceURL.flagKey),
		DiagAddr:          viper.GetString(diagAddr.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		DefaultVolume:     viper.GetInt(defaultVolume.flagKey),
		RedisHost:         viper.GetString(redisHost.flagKey),
		RedisPort:         viper.GetInt(redisPort.flagKey),
		RedisPassword:     viper.GetString(redisPassword.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting display client with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
