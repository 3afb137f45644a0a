package config

import "time"

// holds all application-wide configuration loaded from environment variables.
// this is the single source of truth for listen address, secrets, and the
// collaboration engine's tunables.
type Config struct {
	ListenAddr  string
	Environment string
	JWTSecret   string

	DatabaseURL string
	RedisURL    string

	SnapshotInterval time.Duration
	OpBufferSize     int
	OutboundQueueMax int
	ReadIdleTimeout  time.Duration
	PresenceTimeout  time.Duration
	GracePeriod      time.Duration
	ChatHistorySize  int
}
