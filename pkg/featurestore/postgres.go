package featurestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pulseguard/pkg/health"
)

// PostgresStore keeps feature rows in the feature_rows table. Feature
// values and null markers are stored as JSONB so a schema version can add
// features without a table migration.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveRows implements Store. The whole batch commits or none of it does.
func (s *PostgresStore) SaveRows(ctx context.Context, rows []health.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feature_rows (user_id, date, schema_version, features, nulls, label)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, date, schema_version)
		DO UPDATE SET features = EXCLUDED.features, nulls = EXCLUDED.nulls, label = EXCLUDED.label`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		features, err := json.Marshal(row.Features)
		if err != nil {
			return fmt.Errorf("marshal features for %s: %w", row.UserID, err)
		}
		nulls, err := json.Marshal(row.Nulls)
		if err != nil {
			return fmt.Errorf("marshal nulls for %s: %w", row.UserID, err)
		}
		var label sql.NullString
		if row.Label != nil {
			label = sql.NullString{String: string(*row.Label), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, row.UserID, row.Date, row.SchemaVersion, features, nulls, label); err != nil {
			return fmt.Errorf("upsert row %s/%s: %w", row.UserID, row.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// RowsByVersion implements Store.
func (s *PostgresStore) RowsByVersion(ctx context.Context, schemaVersion int) ([]health.FeatureRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date, schema_version, features, nulls, label
		FROM feature_rows
		WHERE schema_version = $1
		ORDER BY user_id, date`, schemaVersion)
	if err != nil {
		return nil, fmt.Errorf("query feature rows: %w", err)
	}
	defer rows.Close()

	var out []health.FeatureRow
	for rows.Next() {
		var row health.FeatureRow
		var features, nulls []byte
		var label sql.NullString
		if err := rows.Scan(&row.UserID, &row.Date, &row.SchemaVersion, &features, &nulls, &label); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		if err := json.Unmarshal(features, &row.Features); err != nil {
			return nil, fmt.Errorf("decode features for %s: %w", row.UserID, err)
		}
		if len(nulls) > 0 {
			if err := json.Unmarshal(nulls, &row.Nulls); err != nil {
				return nil, fmt.Errorf("decode nulls for %s: %w", row.UserID, err)
			}
		}
		if row.Nulls == nil {
			row.Nulls = make(map[string]bool)
		}
		if label.Valid {
			l := health.RiskLevel(label.String)
			row.Label = &l
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
