package storage

import (
	"context"
	"sync"
	"time"

	"github.com/codeloom/collab-server/internal/logger"
)

// Flusher periodically drains dirty cached snapshots into Postgres,
// adapted from the teacher's internal/buffer.Flusher - same ticker/stopCh
// shape, same "log and retry next tick" failure handling. A document
// session's own eviction path calls CachedStore.Flush directly; this
// loop exists for documents that stay open a long time and whose
// SnapshotInterval-driven cache writes would otherwise sit in Redis
// until eviction.
type Flusher struct {
	store    *PostgresStore
	cache    *DocumentCache
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewFlusher(store *PostgresStore, cache *DocumentCache, interval time.Duration) *Flusher {
	return &Flusher{
		store:    store,
		cache:    cache,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	logger.Info("document cache flusher started", "interval", f.interval.String())
}

func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	logger.Info("document cache flusher stopped")
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.stopCh:
			f.flush()
			return
		}
	}
}

func (f *Flusher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	docIDs, err := f.cache.DirtyDocuments(ctx)
	if err != nil {
		logger.ErrorErr(err, "failed to list dirty documents")
		return
	}
	if len(docIDs) == 0 {
		return
	}

	logger.Debug("flushing dirty document snapshots", "count", len(docIDs))

	for _, docID := range docIDs {
		content, version, language, ok, err := f.cache.GetSnapshot(ctx, docID)
		if err != nil {
			logger.ErrorErr(err, "failed to read cached snapshot for flush", "doc_id", docID)
			continue
		}
		if !ok {
			continue
		}

		if err := f.store.SaveSnapshot(ctx, docID, content, version, language); err != nil {
			logger.ErrorErr(err, "failed to persist cached snapshot", "doc_id", docID)
			continue
		}

		if err := f.cache.ClearDirty(ctx, docID); err != nil {
			logger.ErrorErr(err, "failed to clear dirty flag after flush", "doc_id", docID)
		}
	}
}
