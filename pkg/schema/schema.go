// Package schema holds the versioned feature contract. A schema version is
// immutable once registered; evolution happens by appending new versions, so
// any feature row or model artifact stamped with a version stays reproducible
// indefinitely.
package schema

import (
	"fmt"
	"time"
)

// FeatureType is the value domain of a feature.
type FeatureType string

const (
	TypeNumeric     FeatureType = "numeric"
	TypeCategorical FeatureType = "categorical"
)

// Derivation names the rule that produces a feature.
type Derivation string

const (
	// DeriveDirect copies a canonical field verbatim.
	DeriveDirect Derivation = "direct"
	// DeriveAggregate reduces a day's raw observations to one value.
	DeriveAggregate Derivation = "aggregate"
	// DeriveRolling computes a trailing N-day reduction over an earlier
	// daily feature.
	DeriveRolling Derivation = "rolling_window"
	// DeriveImputed copies an earlier feature and fills its nulls.
	DeriveImputed Derivation = "imputed"
)

// NullPolicy decides what happens when a value is missing.
type NullPolicy string

const (
	// NullAllow keeps the null.
	NullAllow NullPolicy = "allow"
	// NullReject excludes the whole user-day (counted, never silent).
	NullReject NullPolicy = "reject"
	// NullDefault fills with the schema-declared constant.
	NullDefault NullPolicy = "default"
	// NullCarryForward fills with the user's last known value.
	NullCarryForward NullPolicy = "carry_forward"
)

// Reduction is the aggregation applied by aggregate and rolling features.
type Reduction string

const (
	ReduceMean  Reduction = "mean"
	ReduceSum   Reduction = "sum"
	ReduceCount Reduction = "count"
	ReduceMin   Reduction = "min"
)

// ImputeStrategy resolves nulls that survive the earlier stages.
type ImputeStrategy string

const (
	// ImputeMedian fills with the population median of the batch.
	ImputeMedian ImputeStrategy = "median"
	// ImputeCarryForward fills with the user's last non-null value.
	ImputeCarryForward ImputeStrategy = "carry_forward"
)

// FeatureDef describes one named feature: its type, how it is derived, and
// how missing values are treated. Definitions are compared structurally when
// a version is re-registered.
type FeatureDef struct {
	Name        string         `json:"name"`
	Type        FeatureType    `json:"type"`
	Derivation  Derivation     `json:"derivation"`
	SourceField string         `json:"source_field"`
	Reduction   Reduction      `json:"reduction,omitempty"`
	WindowDays  int            `json:"window_days,omitempty"`
	NullPolicy  NullPolicy     `json:"null_policy"`
	Default     float64        `json:"default,omitempty"`
	Impute      ImputeStrategy `json:"impute,omitempty"`
}

// Equal reports structural equality of two definitions.
func (d FeatureDef) Equal(o FeatureDef) bool {
	return d.Name == o.Name &&
		d.Type == o.Type &&
		d.Derivation == o.Derivation &&
		d.SourceField == o.SourceField &&
		d.Reduction == o.Reduction &&
		d.WindowDays == o.WindowDays &&
		d.NullPolicy == o.NullPolicy &&
		d.Default == o.Default &&
		d.Impute == o.Impute
}

// Validate checks the definition in isolation.
func (d FeatureDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("feature has no name")
	}
	switch d.Type {
	case TypeNumeric, TypeCategorical:
	default:
		return fmt.Errorf("feature %s: unknown type %q", d.Name, d.Type)
	}
	switch d.Derivation {
	case DeriveDirect, DeriveImputed:
	case DeriveAggregate:
		if d.Reduction == "" {
			return fmt.Errorf("feature %s: aggregate needs a reduction", d.Name)
		}
	case DeriveRolling:
		if d.WindowDays < 2 {
			return fmt.Errorf("feature %s: rolling window needs window_days >= 2", d.Name)
		}
		if d.Reduction == "" {
			return fmt.Errorf("feature %s: rolling window needs a reduction", d.Name)
		}
	default:
		return fmt.Errorf("feature %s: unknown derivation %q", d.Name, d.Derivation)
	}
	switch d.Reduction {
	case "", ReduceMean, ReduceSum, ReduceCount, ReduceMin:
	default:
		return fmt.Errorf("feature %s: unknown reduction %q", d.Name, d.Reduction)
	}
	switch d.NullPolicy {
	case NullAllow, NullReject, NullDefault, NullCarryForward:
	default:
		return fmt.Errorf("feature %s: unknown null policy %q", d.Name, d.NullPolicy)
	}
	switch d.Impute {
	case "", ImputeMedian, ImputeCarryForward:
	default:
		return fmt.Errorf("feature %s: unknown impute strategy %q", d.Name, d.Impute)
	}
	if d.SourceField == "" {
		return fmt.Errorf("feature %s: no source field", d.Name)
	}
	return nil
}

// FeatureSchema is one immutable schema version: a monotonically increasing
// version number and an ordered list of feature definitions. Order matters:
// later features may reference earlier ones, and the model feature vector
// follows declaration order.
type FeatureSchema struct {
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Features  []FeatureDef `json:"features"`
}

// FeatureNames returns the feature names in declaration order.
func (s *FeatureSchema) FeatureNames() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Def returns the definition for name.
func (s *FeatureSchema) Def(name string) (FeatureDef, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f, true
		}
	}
	return FeatureDef{}, false
}

// Equal reports structural equality of the definition lists. CreatedAt is
// deliberately excluded: re-registering identical definitions is a no-op
// regardless of when they were stored.
func (s *FeatureSchema) Equal(o *FeatureSchema) bool {
	if s.Version != o.Version || len(s.Features) != len(o.Features) {
		return false
	}
	for i := range s.Features {
		if !s.Features[i].Equal(o.Features[i]) {
			return false
		}
	}
	return true
}

// Validate checks the schema as a whole: every definition valid, names
// unique, and rolling/imputed features referencing earlier features only.
func (s *FeatureSchema) Validate() error {
	if len(s.Features) == 0 {
		return fmt.Errorf("schema has no features")
	}
	seen := make(map[string]int, len(s.Features))
	for i, f := range s.Features {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate feature %s", f.Name)
		}
		if f.Derivation == DeriveRolling || f.Derivation == DeriveImputed {
			at, ok := seen[f.SourceField]
			if !ok || at >= i {
				return fmt.Errorf("feature %s references %s, which is not an earlier feature", f.Name, f.SourceField)
			}
		}
		seen[f.Name] = i
	}
	return nil
}

// Clone returns a deep copy; registries hand out copies so callers can never
// mutate a stored version.
func (s *FeatureSchema) Clone() *FeatureSchema {
	cp := &FeatureSchema{Version: s.Version, CreatedAt: s.CreatedAt}
	cp.Features = make([]FeatureDef, len(s.Features))
	copy(cp.Features, s.Features)
	return cp
}
