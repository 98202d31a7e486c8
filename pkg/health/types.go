// Package health defines the core data model shared by the ingestion,
// transformation, training, and inference layers.
package health

import (
	"time"
)

// SourceType identifies the origin of a raw record. The set is closed:
// dispatch on it is always an explicit switch, never field sniffing.
type SourceType string

const (
	// SourceKaggle covers tabular CSV exports in the Fitabase/Kaggle layout.
	SourceKaggle SourceType = "kaggle"
	// SourceWearable covers per-record wearable device exports.
	SourceWearable SourceType = "wearable"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceKaggle, SourceWearable:
		return true
	}
	return false
}

// Canonical field keys produced by the source adapters. Every adapter maps
// its native column names onto these, so downstream code never sees a
// source-specific name.
const (
	FieldSteps         = "steps"
	FieldDistanceKM    = "distance_km"
	FieldActiveEnergy  = "active_energy_kcal"
	FieldActiveMinutes = "active_minutes"
	FieldSleepMinutes  = "sleep_minutes"
	FieldRestingHR     = "resting_hr"
	FieldHeartRate     = "heart_rate"
	FieldHRVSDNN       = "hrv_sdnn"
	FieldVO2Max        = "vo2max"
	FieldWalkingHRAvg  = "walking_hr_avg"
)

// CanonicalRecord is one source-normalized observation. UserID and Timestamp
// are always present; every other field is optional. Records are consumed by
// the transformation engine and then discarded, never persisted.
type CanonicalRecord struct {
	UserID    string             `json:"user_id"`
	Timestamp time.Time          `json:"timestamp"`
	Source    SourceType         `json:"source"`
	Fields    map[string]float64 `json:"fields"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// Day returns the UTC civil day the record belongs to.
func (r *CanonicalRecord) Day() time.Time {
	t := r.Timestamp.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RiskLevel is the advisory risk category emitted by the classifier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// Levels returns all risk levels in class-index order. The ordering is part
// of the model contract: probability vectors are indexed by it.
func Levels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskModerate, RiskHigh}
}

// Index returns the class index of l, or -1 for an unknown level.
func (l RiskLevel) Index() int {
	switch l {
	case RiskLow:
		return 0
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// LevelFromIndex converts a class index back to a RiskLevel.
func LevelFromIndex(i int) (RiskLevel, bool) {
	levels := Levels()
	if i < 0 || i >= len(levels) {
		return "", false
	}
	return levels[i], true
}

// FeatureRow is one user-day's computed feature vector, stamped with the
// schema version that produced it. Nulls are tracked explicitly because zero
// is a legitimate reading for most health metrics.
type FeatureRow struct {
	UserID        string             `json:"user_id"`
	Date          time.Time          `json:"date"`
	SchemaVersion int                `json:"schema_version"`
	Features      map[string]float64 `json:"features"`
	Nulls         map[string]bool    `json:"nulls,omitempty"`
	Label         *RiskLevel         `json:"label,omitempty"`
}

// NewFeatureRow returns an empty feature row for the given identity.
func NewFeatureRow(userID string, date time.Time, schemaVersion int) *FeatureRow {
	return &FeatureRow{
		UserID:        userID,
		Date:          date,
		SchemaVersion: schemaVersion,
		Features:      make(map[string]float64),
		Nulls:         make(map[string]bool),
	}
}

// Set stores a non-null feature value.
func (r *FeatureRow) Set(name string, v float64) {
	r.Features[name] = v
	delete(r.Nulls, name)
}

// SetNull marks the feature as present-but-null.
func (r *FeatureRow) SetNull(name string) {
	delete(r.Features, name)
	r.Nulls[name] = true
}

// Value returns the feature value; ok is false when the feature is null or
// was never computed.
func (r *FeatureRow) Value(name string) (float64, bool) {
	if r.Nulls[name] {
		return 0, false
	}
	v, ok := r.Features[name]
	return v, ok
}

// IsNull reports whether the feature is explicitly null.
func (r *FeatureRow) IsNull(name string) bool {
	return r.Nulls[name]
}

// RiskPrediction is the audit-friendly inference output: the predicted level
// plus the schema version and model that produced it.
type RiskPrediction struct {
	Level         RiskLevel             `json:"risk_level"`
	Probabilities map[RiskLevel]float64 `json:"probabilities"`
	SchemaVersion int                   `json:"schema_version"`
	ModelID       string                `json:"model_id"`
	GeneratedAt   time.Time             `json:"generated_at"`
}
