package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeloom/collab-server/internal/logger"
)

// redis key patterns, adapted from the teacher's internal/buffer key
// naming (session:{id}:code, dirty_sessions:code) to this domain.
const (
	keyDocSnapshot = "doc:%s:snapshot" // hash: content, version, language
	keyDirtyDocs   = "dirty_docs"      // set of doc ids with unflushed snapshots
)

// DocumentCache is a Redis-backed hot cache sitting in front of Postgres,
// grounded in internal/buffer/buffer.go's SessionBuffer (pipelined
// set+dirty-mark, best-effort cleanup). It never replaces Postgres as the
// source of truth for operations - only document snapshots are buffered,
// since op history must be durable before an ack is trustworthy.
type DocumentCache struct {
	client *redis.Client
}

func NewDocumentCache(redisURL string) (*DocumentCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("connected to redis document cache")

	return &DocumentCache{client: client}, nil
}

func (c *DocumentCache) Close() error {
	return c.client.Close()
}

// SetSnapshot stores the snapshot and marks docID dirty for the flusher.
func (c *DocumentCache) SetSnapshot(ctx context.Context, docID, content string, version int, language string) error {
	key := fmt.Sprintf(keyDocSnapshot, docID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"content":  content,
		"version":  version,
		"language": language,
	})
	pipe.SAdd(ctx, keyDirtyDocs, docID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache document snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns ok=false on a cache miss; callers fall back to
// Postgres.
func (c *DocumentCache) GetSnapshot(ctx context.Context, docID string) (content string, version int, language string, ok bool, err error) {
	key := fmt.Sprintf(keyDocSnapshot, docID)

	vals, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return "", 0, "", false, fmt.Errorf("read cached snapshot: %w", err)
	}
	if len(vals) == 0 {
		return "", 0, "", false, nil
	}

	v, _ := strconv.Atoi(vals["version"])
	return vals["content"], v, vals["language"], true, nil
}

// DirtyDocuments returns doc ids with an unflushed snapshot.
func (c *DocumentCache) DirtyDocuments(ctx context.Context) ([]string, error) {
	ids, err := c.client.SMembers(ctx, keyDirtyDocs).Result()
	if err != nil {
		return nil, fmt.Errorf("list dirty documents: %w", err)
	}
	return ids, nil
}

// ClearDirty removes docID from the dirty set after a successful flush.
func (c *DocumentCache) ClearDirty(ctx context.Context, docID string) error {
	return c.client.SRem(ctx, keyDirtyDocs, docID).Err()
}

// Evict drops a document's cached snapshot once its session unloads.
func (c *DocumentCache) Evict(ctx context.Context, docID string) error {
	key := fmt.Sprintf(keyDocSnapshot, docID)
	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, keyDirtyDocs, docID)
	_, err := pipe.Exec(ctx)
	return err
}
