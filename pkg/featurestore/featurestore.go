// Package featurestore persists derived feature rows so training runs can
// pull a consistent, versioned training set without re-deriving features.
package featurestore

import (
	"context"
	"sort"
	"sync"

	"pulseguard/pkg/health"
)

// Store persists feature rows keyed by (user, date, schema version).
// Writing the same key twice replaces the row: re-running a transform for a
// day is idempotent.
type Store interface {
	SaveRows(ctx context.Context, rows []health.FeatureRow) error
	RowsByVersion(ctx context.Context, schemaVersion int) ([]health.FeatureRow, error)
}

type rowKey struct {
	userID  string
	day     int64
	version int
}

// MemoryStore is the in-process Store used by tests and the CLI.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[rowKey]health.FeatureRow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[rowKey]health.FeatureRow)}
}

// SaveRows implements Store.
func (s *MemoryStore) SaveRows(ctx context.Context, rows []health.FeatureRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		key := rowKey{userID: row.UserID, day: row.Date.Unix(), version: row.SchemaVersion}
		s.rows[key] = row
	}
	return nil
}

// RowsByVersion implements Store. Rows come back ordered by user then date
// so callers see a stable training set.
func (s *MemoryStore) RowsByVersion(ctx context.Context, schemaVersion int) ([]health.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []health.FeatureRow
	for key, row := range s.rows {
		if key.version == schemaVersion {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}
