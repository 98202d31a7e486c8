package model

import (
	"fmt"
	"math"

	"pulseguard/pkg/health"
)

// BandedScorer is a rule-based baseline: each vital contributes a banded
// risk fraction weighted by clinical importance, and the weighted total
// maps onto the three risk levels. It needs no training data, which makes
// it the candidate of last resort when labels are scarce.
type BandedScorer struct {
	FeatureNames []string `json:"feature_names"`
}

// NewBandedScorer builds a scorer reading features by position from the
// given vector layout.
func NewBandedScorer(featureNames []string) *BandedScorer {
	return &BandedScorer{FeatureNames: featureNames}
}

// Algorithm implements Classifier.
func (b *BandedScorer) Algorithm() string { return AlgorithmBanded }

// Fit implements Classifier. The rules are fixed; fitting only checks the
// vector layout is usable.
func (b *BandedScorer) Fit(X [][]float64, y []int) error {
	if len(b.FeatureNames) == 0 {
		return fmt.Errorf("banded: no feature layout")
	}
	for _, x := range X {
		if len(x) != len(b.FeatureNames) {
			return fmt.Errorf("banded: row has %d values for %d features", len(x), len(b.FeatureNames))
		}
	}
	return nil
}

// bandRule scores the risk contribution of one vital. Bands run from worst
// to best: the first cut the value crosses decides the fraction of the
// rule's weight that counts toward the risk total. The final fraction is
// the catch-all for values past every cut.
type bandRule struct {
	weight float64
	// higherRisk means larger values are riskier (resting heart rate).
	higherRisk bool
	cuts       []float64
	fracs      []float64 // len(cuts)+1, last entry is the catch-all
}

var bandRules = map[string]bandRule{
	health.FieldSteps: {
		weight: 20,
		cuts:   []float64{3000, 6000, 9000},
		fracs:  []float64{1.0, 0.7, 0.4, 0.2},
	},
	health.FieldSleepMinutes: {
		weight: 20,
		cuts:   []float64{360, 420, 540},
		fracs:  []float64{1.0, 0.7, 0.4, 0.2},
	},
	health.FieldRestingHR: {
		weight:     20,
		higherRisk: true,
		cuts:       []float64{90, 80, 70},
		fracs:      []float64{1.0, 0.7, 0.4, 0.2},
	},
	health.FieldActiveMinutes: {
		weight: 10,
		cuts:   []float64{20, 40, 60},
		fracs:  []float64{0.8, 0.6, 0.4, 0.2},
	},
	health.FieldHRVSDNN: {
		weight: 15,
		cuts:   []float64{20, 40, 60},
		fracs:  []float64{1.0, 0.7, 0.5, 0.3},
	},
	health.FieldVO2Max: {
		weight: 10,
		cuts:   []float64{30, 35, 45},
		fracs:  []float64{1.0, 0.7, 0.5, 0.3},
	},
	health.FieldWalkingHRAvg: {
		weight:     5,
		higherRisk: true,
		cuts:       []float64{120, 110, 100},
		fracs:      []float64{1.0, 0.7, 0.5, 0.3},
	},
}

func (r bandRule) frac(v float64) float64 {
	for i, cut := range r.cuts {
		if r.higherRisk {
			if v > cut {
				return r.fracs[i]
			}
		} else if v < cut {
			return r.fracs[i]
		}
	}
	return r.fracs[len(r.cuts)]
}

// Score computes the weighted risk total in [0,100]: higher means riskier.
// Every rule contributes whether or not its vital is in the vector layout.
// A missing vital counts half its weight, so a sparse day degrades toward
// Moderate rather than swinging to an extreme. A value of zero is treated
// as missing: after vectorization a null and a true zero coincide whenever
// the schema default is zero, and none of these vitals plausibly reads an
// exact zero on a day the device was worn.
func (b *BandedScorer) Score(x []float64) float64 {
	pos := make(map[string]int, len(b.FeatureNames))
	for i, name := range b.FeatureNames {
		pos[name] = i
	}
	var total float64
	for name, rule := range bandRules {
		i, ok := pos[name]
		if !ok || i >= len(x) || x[i] == 0 {
			total += rule.weight * 0.5
			continue
		}
		total += rule.weight * rule.frac(x[i])
	}
	return math.Min(total, 100)
}

// Risk band thresholds on the 0-100 risk score.
const (
	bandHighFloor     = 70.0
	bandModerateFloor = 45.0
)

// PredictProba implements Classifier. The band the score lands in always
// wins the argmax; the remaining mass leans toward the nearer band.
func (b *BandedScorer) PredictProba(x []float64) []float64 {
	score := b.Score(x)
	proba := make([]float64, len(health.Levels()))
	switch {
	case score >= bandHighFloor:
		proba[health.RiskHigh.Index()] = 0.7
		proba[health.RiskModerate.Index()] = 0.2
		proba[health.RiskLow.Index()] = 0.1
	case score >= bandModerateFloor:
		proba[health.RiskModerate.Index()] = 0.7
		proba[health.RiskHigh.Index()] = 0.15
		proba[health.RiskLow.Index()] = 0.15
	default:
		proba[health.RiskLow.Index()] = 0.7
		proba[health.RiskModerate.Index()] = 0.2
		proba[health.RiskHigh.Index()] = 0.1
	}
	return proba
}
