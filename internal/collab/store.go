package collab

import "context"

// Store is the Persistence Adapter contract (C5, spec.md §4.5). The core
// only depends on this interface; internal/storage provides the concrete
// Postgres+Redis implementation. All methods block, and the session
// dispatcher never calls them itself: periodic snapshot saves and op
// flushes run in worker goroutines it spawns, LoadSnapshot runs in
// Hub.Attach before the dispatcher starts, the final save and Flush run in
// the hub's eviction and shutdown goroutines, and the gateway calls
// ResolveAccess before the upgrade.
type Store interface {
	LoadSnapshot(ctx context.Context, docID string) (Snapshot, error)
	SaveSnapshot(ctx context.Context, docID string, content string, version int, language string) error
	AppendOps(ctx context.Context, docID string, ops []Operation) error
	LoadOpsSince(ctx context.Context, docID string, fromVersion int) ([]Operation, error)
	ResolveAccess(ctx context.Context, userID, docID string) (Access, error)

	// Flush forces any buffered snapshot for docID durably to the backing
	// store. Implementations that are always durable (a direct Postgres
	// adapter) treat it as a no-op; a caching decorator treats it as the
	// write-behind drain. DocumentSession.evict and shutdownNow call it after
	// the final save, so eviction never leaves state only in a hot cache.
	Flush(ctx context.Context, docID string) error
}

// TransientError marks a retryable persistence failure, as distinct from
// one that should surface to the caller (spec.md §4.5). internal/storage
// does not wrap its errors in it; the session's snapshot save retries every
// error the same way.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
