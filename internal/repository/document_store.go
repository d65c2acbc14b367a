package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrVersionConflict signals that a compare-and-set write lost a race
// with a concurrent writer. Callers re-read and retry.
var ErrVersionConflict = errors.New("document version conflict")

// DocumentStore provides keyed-document primitives over the documents
// table: get-by-key, set-with-merge, query-by-field-in-set, versioned
// replace and atomic array union. Documents are grouped by collection
// and carry a version used for optimistic concurrency.
type DocumentStore struct {
	db *sqlx.DB
}

// NewDocumentStore constructs a DocumentStore.
func NewDocumentStore(db *sqlx.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// DB exposes the underlying handle for repositories that need direct
// queries (listing, counting).
func (s *DocumentStore) DB() *sqlx.DB {
	return s.db
}

// Get loads the document body into dest and returns its version.
// Returns sql.ErrNoRows when the document does not exist.
func (s *DocumentStore) Get(ctx context.Context, collection, key string, dest interface{}) (int64, error) {
	var row struct {
		Body    []byte `db:"body"`
		Version int64  `db:"version"`
	}
	const query = `SELECT body, version FROM documents WHERE collection = $1 AND key = $2`
	if err := s.db.GetContext(ctx, &row, query, collection, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("get document %s/%s: %w", collection, key, err)
	}
	if dest != nil {
		if err := json.Unmarshal(row.Body, dest); err != nil {
			return 0, fmt.Errorf("decode document %s/%s: %w", collection, key, err)
		}
	}
	return row.Version, nil
}

// Set stores the full document body, creating it when absent.
func (s *DocumentStore) Set(ctx context.Context, collection, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, key, err)
	}
	const query = `INSERT INTO documents (collection, key, body, version, updated_at)
        VALUES ($1, $2, $3, 1, $4)
        ON CONFLICT (collection, key)
        DO UPDATE SET body = EXCLUDED.body, version = documents.version + 1, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query, collection, key, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("set document %s/%s: %w", collection, key, err)
	}
	return nil
}

// Create inserts the document only when absent. An existing document
// surfaces ErrVersionConflict so the caller re-reads and retries
// instead of clobbering a concurrent write.
func (s *DocumentStore) Create(ctx context.Context, collection, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, key, err)
	}
	const query = `INSERT INTO documents (collection, key, body, version, updated_at)
        VALUES ($1, $2, $3, 1, $4)
        ON CONFLICT (collection, key) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, collection, key, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create document %s/%s: %w", collection, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create document %s/%s: %w", collection, key, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SetWithMerge upserts the document, merging top-level fields of value
// into the existing body instead of replacing it.
func (s *DocumentStore) SetWithMerge(ctx context.Context, collection, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, key, err)
	}
	const query = `INSERT INTO documents (collection, key, body, version, updated_at)
        VALUES ($1, $2, $3, 1, $4)
        ON CONFLICT (collection, key)
        DO UPDATE SET body = documents.body || EXCLUDED.body, version = documents.version + 1, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query, collection, key, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("merge document %s/%s: %w", collection, key, err)
	}
	return nil
}

// CompareAndSet replaces the body only when the stored version still
// matches expectedVersion.
func (s *DocumentStore) CompareAndSet(ctx context.Context, collection, key string, value interface{}, expectedVersion int64) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, key, err)
	}
	const query = `UPDATE documents SET body = $3, version = version + 1, updated_at = $4
        WHERE collection = $1 AND key = $2 AND version = $5`
	res, err := s.db.ExecContext(ctx, query, collection, key, body, time.Now().UTC(), expectedVersion)
	if err != nil {
		return fmt.Errorf("replace document %s/%s: %w", collection, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace document %s/%s: %w", collection, key, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// QueryByFieldIn returns the bodies of documents whose top-level field
// equals any of the provided values.
func (s *DocumentStore) QueryByFieldIn(ctx context.Context, collection, field string, values []string) ([]json.RawMessage, error) {
	if len(values) == 0 {
		return nil, nil
	}
	const query = `SELECT body FROM documents WHERE collection = $1 AND body->>$2 = ANY($3) ORDER BY key`
	var bodies [][]byte
	if err := s.db.SelectContext(ctx, &bodies, query, collection, field, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("query documents %s by %s: %w", collection, field, err)
	}
	out := make([]json.RawMessage, len(bodies))
	for i, b := range bodies {
		out[i] = json.RawMessage(b)
	}
	return out, nil
}

// ArrayUnion appends element to the named array field without touching
// the rest of the body, creating the document when absent. Elements
// already present are left alone, mirroring an array-union primitive.
func (s *DocumentStore) ArrayUnion(ctx context.Context, collection, key, field string, element interface{}) error {
	payload, err := json.Marshal(element)
	if err != nil {
		return fmt.Errorf("encode array element for %s/%s: %w", collection, key, err)
	}
	wrapped, err := json.Marshal([]json.RawMessage{payload})
	if err != nil {
		return fmt.Errorf("encode array element for %s/%s: %w", collection, key, err)
	}
	// Containment compares against the single-element array, not the
	// bare element: jsonb @> only matches bare primitives inside an
	// array, so object elements would never dedupe otherwise.
	const query = `INSERT INTO documents (collection, key, body, version, updated_at)
        VALUES ($1, $2, jsonb_build_object($3::text, $4::jsonb), 1, $5)
        ON CONFLICT (collection, key)
        DO UPDATE SET body = jsonb_set(
                documents.body,
                ARRAY[$3::text],
                CASE WHEN COALESCE(documents.body->$3::text, '[]'::jsonb) @> $4::jsonb
                     THEN COALESCE(documents.body->$3::text, '[]'::jsonb)
                     ELSE COALESCE(documents.body->$3::text, '[]'::jsonb) || $4::jsonb
                END),
            version = documents.version + 1,
            updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query, collection, key, field, wrapped, time.Now().UTC()); err != nil {
		return fmt.Errorf("array union %s/%s.%s: %w", collection, key, field, err)
	}
	return nil
}
