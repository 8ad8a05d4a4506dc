// Package store caches canonical bundles content-addressed by etag, so
// repeated elaborations of unchanged sources can be served from disk. The
// store is a local library component — single process, pure-Go sqlite —
// not a hosted registry.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/codec"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// ErrNotFound reports a missing etag.
var ErrNotFound = errors.New("store: bundle not found")

// BundleStore persists canonical bundle bytes keyed by etag.
type BundleStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	etag        TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL,
	payload     BLOB NOT NULL,
	stored_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bundles_contract ON bundles(contract_id);
`

// Open opens (or creates) a store at path. ":memory:" works for tests.
func Open(path string) (*BundleStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// The store is a cache with one writer; WAL keeps readers unblocked.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &BundleStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BundleStore) Close() error { return s.db.Close() }

// Put stores the bundle and returns its etag. Storing the same bundle twice
// is a no-op: identity is content.
func (s *BundleStore) Put(ctx context.Context, b *contracts.Bundle) (string, error) {
	data, err := canonicalize.Bundle(b)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	etag := canonicalize.HashBytes(data)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bundles (etag, contract_id, payload, stored_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(etag) DO NOTHING`,
		etag, b.ContractID, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("store: put: %w", err)
	}
	return etag, nil
}

// Get loads and decodes the bundle with the given etag.
func (s *BundleStore) Get(ctx context.Context, etag string) (*contracts.Bundle, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM bundles WHERE etag = ?`, etag).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	if got := canonicalize.HashBytes(payload); got != etag {
		return nil, fmt.Errorf("store: payload for %s hashes to %s; cache corrupt", etag, got)
	}
	return codec.Decode(payload)
}

// List returns the stored etags for a contract id, newest first.
func (s *BundleStore) List(ctx context.Context, contractID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT etag FROM bundles WHERE contract_id = ? ORDER BY stored_at DESC, etag`, contractID)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	var etags []string
	for rows.Next() {
		var etag string
		if err := rows.Scan(&etag); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		etags = append(etags, etag)
	}
	return etags, rows.Err()
}

// Delete removes a stored bundle. Deleting a missing etag is not an error.
func (s *BundleStore) Delete(ctx context.Context, etag string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bundles WHERE etag = ?`, etag); err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}
