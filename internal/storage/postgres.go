// Package storage provides the concrete Persistence Adapter (collab.Store)
// backing the collaboration core: Postgres for durable document state and
// op history, Redis as a write-behind hot cache in front of it. The query
// shape (named const strings, QueryRow/Query/Exec + Scan) follows the
// teacher's algorave/sessions and algorave/users repositories.
package storage

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeloom/collab-server/internal/collab"
)

// PostgresStore is the durable collab.Store implementation. It issues only
// DML; internal/storage/schema.sql carries the DDL, applied by the
// operator (matches the teacher's split between migrations and queries.go).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, docID string) (collab.Snapshot, error) {
	var snap collab.Snapshot

	err := s.db.QueryRow(ctx, queryLoadSnapshot, docID).Scan(&snap.Content, &snap.Version, &snap.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, insertErr := s.db.Exec(ctx, queryInsertDocument, docID, nil); insertErr != nil {
			return collab.Snapshot{}, fmt.Errorf("create document row: %w", insertErr)
		}
		return collab.Snapshot{Content: "", Version: 0, Language: "plaintext"}, nil
	}
	if err != nil {
		return collab.Snapshot{}, fmt.Errorf("load document snapshot: %w", err)
	}

	return snap, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, docID string, content string, version int, language string) error {
	tag, err := s.db.Exec(ctx, querySaveSnapshot, docID, content, version, language)
	if err != nil {
		return fmt.Errorf("save document snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.db.Exec(ctx, queryInsertDocument, docID, nil); err != nil {
			return fmt.Errorf("create document row on save: %w", err)
		}
		if _, err := s.db.Exec(ctx, querySaveSnapshot, docID, content, version, language); err != nil {
			return fmt.Errorf("save document snapshot after create: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendOps(ctx context.Context, docID string, ops []collab.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, op := range ops {
		batch.Queue(queryAppendOp,
			docID,
			op.BaseVersion,
			string(op.Kind),
			op.Position,
			op.Length,
			len(utf16.Encode([]rune(op.Text))),
			op.UserID,
			op.ClientID,
			opHash(docID, op),
		)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for range ops {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append document operation: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) LoadOpsSince(ctx context.Context, docID string, fromVersion int) ([]collab.Operation, error) {
	rows, err := s.db.Query(ctx, queryLoadOpsSince, docID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("load operations since version: %w", err)
	}
	defer rows.Close()

	var ops []collab.Operation
	for rows.Next() {
		var (
			op      collab.Operation
			kind    string
			textLen int
		)
		if err := rows.Scan(&op.BaseVersion, &kind, &op.Position, &op.Length, &textLen, &op.UserID, &op.ClientID, &op.Timestamp); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		op.Kind = collab.OpKind(kind)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation rows: %w", err)
	}

	return ops, nil
}

func (s *PostgresStore) ResolveAccess(ctx context.Context, userID, docID string) (collab.Access, error) {
	var ownerID string
	if err := s.db.QueryRow(ctx, queryResolveOwnerAccess, docID).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collab.AccessNone, nil
		}
		return collab.AccessNone, fmt.Errorf("resolve document owner: %w", err)
	}
	if ownerID == userID {
		return collab.AccessEdit, nil
	}

	var level string
	err := s.db.QueryRow(ctx, queryResolveAccess, docID, userID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return collab.AccessNone, nil
	}
	if err != nil {
		return collab.AccessNone, fmt.Errorf("resolve document access: %w", err)
	}

	switch level {
	case "edit":
		return collab.AccessEdit, nil
	case "view":
		return collab.AccessView, nil
	default:
		return collab.AccessNone, nil
	}
}

// Flush is a no-op: PostgresStore writes are already durable on return.
func (s *PostgresStore) Flush(ctx context.Context, docID string) error {
	return nil
}

// opHash is a cheap idempotency fingerprint for a (docId, version) pair,
// used to detect replayed AppendOps calls during retry; it is stored
// alongside the row rather than derived at read time.
func opHash(docID string, op collab.Operation) string {
	return fmt.Sprintf("%s:%d:%s:%d", docID, op.BaseVersion, op.ClientID, op.Position)
}
