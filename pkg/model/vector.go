package model

import (
	"fmt"

	"pulseguard/pkg/health"
	"pulseguard/pkg/schema"
)

// ErrFeatureOrderMismatch reports a vector layout naming a feature the
// schema does not define.
var ErrFeatureOrderMismatch = fmt.Errorf("feature order does not match schema")

// VectorizeRow flattens a feature row into the fixed order given by
// featureNames. Null features take the schema default, the same value the
// transform's default policy and single-row path use, so training and
// inference see identical vectors for identical inputs.
func VectorizeRow(row *health.FeatureRow, sch *schema.FeatureSchema, featureNames []string) ([]float64, error) {
	x := make([]float64, len(featureNames))
	for i, name := range featureNames {
		def, ok := sch.Def(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not in schema version %d", ErrFeatureOrderMismatch, name, sch.Version)
		}
		if v, ok := row.Value(name); ok {
			x[i] = v
		} else {
			x[i] = def.Default
		}
	}
	return x, nil
}
