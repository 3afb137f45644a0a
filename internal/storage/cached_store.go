package storage

import (
	"context"
	"fmt"

	"github.com/codeloom/collab-server/internal/collab"
	"github.com/codeloom/collab-server/internal/logger"
)

// CachedStore wraps a collab.Store with a Redis hot cache for snapshot
// reads and write-behind snapshot saves. Operation history and access
// resolution always go straight through: those need to be durable (or
// correct) before the caller can trust the result. This split mirrors the
// teacher's buffer+flusher pair, where chat/code state is cached but
// nothing durability-sensitive skips Postgres.
type CachedStore struct {
	inner collab.Store
	cache *DocumentCache
}

func NewCachedStore(inner collab.Store, cache *DocumentCache) *CachedStore {
	return &CachedStore{inner: inner, cache: cache}
}

func (s *CachedStore) LoadSnapshot(ctx context.Context, docID string) (collab.Snapshot, error) {
	if content, version, language, ok, err := s.cache.GetSnapshot(ctx, docID); err == nil && ok {
		return collab.Snapshot{Content: content, Version: version, Language: language}, nil
	} else if err != nil {
		logger.Warn("document cache read failed, falling back to postgres", "doc_id", docID, "error", err)
	}

	snap, err := s.inner.LoadSnapshot(ctx, docID)
	if err != nil {
		return collab.Snapshot{}, err
	}

	if err := s.cache.SetSnapshot(ctx, docID, snap.Content, snap.Version, snap.Language); err != nil {
		logger.Warn("document cache warm failed", "doc_id", docID, "error", err)
	}
	// loading from Postgres means the cache now matches the durable copy;
	// it should not be treated as dirty until the next actual write.
	if err := s.cache.ClearDirty(ctx, docID); err != nil {
		logger.Warn("document cache dirty-clear failed", "doc_id", docID, "error", err)
	}

	return snap, nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, docID string, content string, version int, language string) error {
	if err := s.cache.SetSnapshot(ctx, docID, content, version, language); err != nil {
		return fmt.Errorf("cache snapshot write: %w", err)
	}
	return nil
}

func (s *CachedStore) AppendOps(ctx context.Context, docID string, ops []collab.Operation) error {
	return s.inner.AppendOps(ctx, docID, ops)
}

func (s *CachedStore) LoadOpsSince(ctx context.Context, docID string, fromVersion int) ([]collab.Operation, error) {
	return s.inner.LoadOpsSince(ctx, docID, fromVersion)
}

func (s *CachedStore) ResolveAccess(ctx context.Context, userID, docID string) (collab.Access, error) {
	return s.inner.ResolveAccess(ctx, userID, docID)
}

// Flush forces an immediate write-behind of docID's cached snapshot to
// Postgres, bypassing the periodic Flusher - called on session eviction
// and shutdown (spec.md §4.3.8 Draining state) so nothing sits only in
// Redis once a document has no live members.
func (s *CachedStore) Flush(ctx context.Context, docID string) error {
	content, version, language, ok, err := s.cache.GetSnapshot(ctx, docID)
	if err != nil {
		return fmt.Errorf("read cached snapshot for flush: %w", err)
	}
	if !ok {
		return nil
	}

	if err := s.inner.SaveSnapshot(ctx, docID, content, version, language); err != nil {
		return fmt.Errorf("flush snapshot to postgres: %w", err)
	}

	return s.cache.ClearDirty(ctx, docID)
}
