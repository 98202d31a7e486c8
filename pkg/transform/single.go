package transform

import (
	"fmt"

	"pulseguard/pkg/health"
	"pulseguard/pkg/schema"
)

// One derives the feature row for a single user-day from ad-hoc raw
// observations, reusing the exact batch stages so inference features match
// training features for every non-windowed derivation.
//
// With no multi-day context, rolling-window features have no valid window
// and carry-forward has nothing to carry: such nulls fall back to the
// def's declared default when an imputation strategy exists (a population
// median cannot be computed from one row).
func One(sch *schema.FeatureSchema, records []health.CanonicalRecord) (*health.FeatureRow, error) {
	if err := sch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrIncompleteAggregation)
	}
	userID := records[0].UserID
	day := records[0].Day()
	for i := range records {
		if records[i].UserID == "" || records[i].Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: record %d is missing user or timestamp", ErrIncompleteAggregation, i)
		}
		if records[i].UserID != userID || !records[i].Day().Equal(day) {
			return nil, fmt.Errorf("single-row transform needs one user-day, got %s/%s and %s/%s",
				userID, day.Format("2006-01-02"), records[i].UserID, records[i].Day().Format("2006-01-02"))
		}
	}

	ur := transformUser(sch, userID, records)
	if len(ur.rows) == 0 {
		// A reject policy excluded the only row; surface that instead of
		// guessing a prediction input.
		return nil, fmt.Errorf("user-day rejected by null policy (%d feature rejections)", ur.rejected)
	}
	row := ur.rows[0]

	// Nulls that would have been median-imputed in a batch fall back to
	// the schema default for a lone row.
	for _, p := range ur.medianPending {
		def, _ := sch.Def(p.feature)
		row.Set(p.feature, def.Default)
	}
	return &row, nil
}
