package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeloom/collab-server/internal/collab"
	"github.com/codeloom/collab-server/internal/config"
	ws "github.com/codeloom/collab-server/internal/websocket"

	"github.com/codeloom/collab-server/internal/storage"
)

// how often the flusher drains dirty documents from Redis to Postgres
const bufferFlushInterval = 5 * time.Second

// creates and configures a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// configure connection pool for a small managed-postgres free tier pooler
	// (same reasoning as the teacher: keep the pool well under the pooler's
	// own connection cap)
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	// CRITICAL: use simple protocol for a PgBouncer-fronted pooler in
	// transaction mode, which doesn't support prepared statements
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	userRepo := storage.NewUserRepository(db)
	postgresStore := storage.NewPostgresStore(db)

	// initialize Redis cache for document snapshots (write-behind layer)
	cache, err := storage.NewDocumentCache(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize redis document cache: %w", err)
	}

	// wrap the postgres store with the cache (writes go to Redis, reads
	// fall through to Postgres on a cache miss)
	store := storage.NewCachedStore(postgresStore, cache)

	// create flusher to periodically drain cached snapshots to Postgres
	flusher := storage.NewFlusher(postgresStore, cache, bufferFlushInterval)

	tracker := ws.NewConnTracker()
	sessionCfg := collab.DefaultSessionConfig()
	sessionCfg.SnapshotInterval = cfg.SnapshotInterval
	sessionCfg.OpBufferSize = cfg.OpBufferSize
	sessionCfg.OutboundQueueMax = cfg.OutboundQueueMax
	sessionCfg.PresenceTimeout = cfg.PresenceTimeout
	sessionCfg.GracePeriod = cfg.GracePeriod

	chatCfg := collab.DefaultChatConfig()
	chatCfg.HistorySize = cfg.ChatHistorySize

	hub := collab.NewHub(store, sessionCfg, chatCfg)

	router := gin.Default()

	server := &Server{
		db:       db,
		config:   cfg,
		userRepo: userRepo,
		store:    store,
		cache:    cache,
		flusher:  flusher,
		hub:      hub,
		tracker:  tracker,
		router:   router,
	}

	RegisterRoutes(router, server)

	return server, nil
}
