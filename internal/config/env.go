package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr       = ":8080"
	defaultSnapshotIntervalMS = 5_000
	defaultOpBufferSize       = 1024
	defaultOutboundQueueMax   = 256
	defaultReadIdleTimeoutMS  = 90_000
	defaultPresenceTimeoutMS  = 30_000
	defaultGracePeriodMS      = 5 * 60 * 1000
	defaultChatHistorySize    = 1000
)

// loads configuration from environment variables, falling back to spec
// defaults for anything the operator doesn't set
func LoadEnvironmentVariables() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // not an error - production environments may not have .env file
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	return &Config{
		ListenAddr:       listenAddr,
		Environment:      environment,
		JWTSecret:        jwtSecret,
		DatabaseURL:      databaseURL,
		RedisURL:         os.Getenv("REDIS_URL"),
		SnapshotInterval: envDurationMS("SNAPSHOT_INTERVAL_MS", defaultSnapshotIntervalMS),
		OpBufferSize:     envInt("OP_BUFFER_SIZE", defaultOpBufferSize),
		OutboundQueueMax: envInt("OUTBOUND_QUEUE_MAX", defaultOutboundQueueMax),
		ReadIdleTimeout:  envDurationMS("READ_IDLE_TIMEOUT_MS", defaultReadIdleTimeoutMS),
		PresenceTimeout:  envDurationMS("PRESENCE_TIMEOUT_MS", defaultPresenceTimeoutMS),
		GracePeriod:      envDurationMS("GRACE_PERIOD_MS", defaultGracePeriodMS),
		ChatHistorySize:  envInt("CHAT_HISTORY_SIZE", defaultChatHistorySize),
	}, nil
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func envDurationMS(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}
