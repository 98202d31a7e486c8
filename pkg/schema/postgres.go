package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRegistry stores schema versions in the feature_schemas table.
// Register runs inside a transaction that locks the table's max version row,
// which linearizes concurrent registrations across processes the same way
// the in-memory registry's mutex does within one.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry wraps an open database handle. The feature_schemas
// table must already exist (see pkg/database migrations).
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// Get implements Registry.
func (r *PostgresRegistry) Get(ctx context.Context, version int) (*FeatureSchema, error) {
	var (
		defs      []byte
		createdAt time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT definitions, created_at FROM feature_schemas WHERE version = $1`, version,
	).Scan(&defs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %d", ErrNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("query schema version %d: %w", version, err)
	}
	return decodeSchema(version, createdAt, defs)
}

// Latest implements Registry.
func (r *PostgresRegistry) Latest(ctx context.Context) (*FeatureSchema, error) {
	var (
		version   int
		defs      []byte
		createdAt time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, definitions, created_at FROM feature_schemas ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &defs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: registry is empty", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest schema: %w", err)
	}
	return decodeSchema(version, createdAt, defs)
}

// Register implements Registry.
func (r *PostgresRegistry) Register(ctx context.Context, s *FeatureSchema) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, fmt.Errorf("invalid schema: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("begin register tx: %w", err)
	}
	defer tx.Rollback()

	// Serialize writers. The advisory lock covers the empty-table case
	// that row locks cannot.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, registryLockKey); err != nil {
		return 0, fmt.Errorf("acquire registry lock: %w", err)
	}

	version := s.Version
	if version == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM feature_schemas`,
		).Scan(&version); err != nil {
			return 0, fmt.Errorf("next schema version: %w", err)
		}
	}

	var existing []byte
	err = tx.QueryRowContext(ctx,
		`SELECT definitions FROM feature_schemas WHERE version = $1`, version,
	).Scan(&existing)
	switch {
	case err == nil:
		stored, derr := decodeSchema(version, time.Time{}, existing)
		if derr != nil {
			return 0, derr
		}
		candidate := s.Clone()
		candidate.Version = version
		if stored.Equal(candidate) {
			return version, nil // idempotent re-register
		}
		return 0, fmt.Errorf("%w: version %d already registered with different definitions", ErrConflict, version)
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return 0, fmt.Errorf("check schema version %d: %w", version, err)
	}

	defs, err := json.Marshal(s.Features)
	if err != nil {
		return 0, fmt.Errorf("encode definitions: %w", err)
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feature_schemas (version, definitions, created_at) VALUES ($1, $2, $3)`,
		version, defs, createdAt,
	); err != nil {
		return 0, fmt.Errorf("insert schema version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit schema version %d: %w", version, err)
	}
	return version, nil
}

// registryLockKey is an arbitrary advisory-lock namespace for the schema
// registry writer.
const registryLockKey = 0x70756c73 // "puls"

func decodeSchema(version int, createdAt time.Time, defs []byte) (*FeatureSchema, error) {
	s := &FeatureSchema{Version: version, CreatedAt: createdAt}
	if err := json.Unmarshal(defs, &s.Features); err != nil {
		return nil, fmt.Errorf("decode schema version %d: %w", version, err)
	}
	return s, nil
}
