package model

import (
	"math"
	"testing"

	"pulseguard/pkg/health"
)

// separable three-class data in two dimensions: sedentary short-sleeping
// days are high risk, active well-rested days are low risk.
func separableData() ([][]float64, []int) {
	var X [][]float64
	var y []int
	for i := 0; i < 20; i++ {
		jitter := float64(i%5) * 10
		X = append(X, []float64{1000 + jitter, 300})
		y = append(y, health.RiskHigh.Index())
		X = append(X, []float64{6000 + jitter, 380})
		y = append(y, health.RiskModerate.Index())
		X = append(X, []float64{12000 + jitter, 450})
		y = append(y, health.RiskLow.Index())
	}
	return X, y
}

func TestSoftmaxLearnsSeparableData(t *testing.T) {
	X, y := separableData()
	c := NewSoftmaxRegression(3)
	if err := c.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	correct := 0
	for i, x := range X {
		if Argmax(c.PredictProba(x)) == y[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(X)); acc < 0.95 {
		t.Fatalf("train accuracy %f, want >= 0.95", acc)
	}
}

func TestForestDeterministicGivenSeed(t *testing.T) {
	X, y := separableData()
	a := NewRandomForest(3)
	b := NewRandomForest(3)
	if err := a.Fit(X, y); err != nil {
		t.Fatalf("Fit a: %v", err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatalf("Fit b: %v", err)
	}
	for i, x := range X {
		pa, pb := a.PredictProba(x), b.PredictProba(x)
		for c := range pa {
			if pa[c] != pb[c] {
				t.Fatalf("row %d class %d: %f vs %f with same seed", i, c, pa[c], pb[c])
			}
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	X, y := separableData()
	classifiers := []Classifier{
		NewSoftmaxRegression(3),
		NewRandomForest(3),
		NewBandedScorer([]string{health.FieldSteps, health.FieldSleepMinutes}),
	}
	for _, c := range classifiers {
		if err := c.Fit(X, y); err != nil {
			t.Fatalf("%s Fit: %v", c.Algorithm(), err)
		}
		data, err := Encode(c)
		if err != nil {
			t.Fatalf("%s Encode: %v", c.Algorithm(), err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("%s Decode: %v", c.Algorithm(), err)
		}
		if decoded.Algorithm() != c.Algorithm() {
			t.Fatalf("algorithm changed: %s -> %s", c.Algorithm(), decoded.Algorithm())
		}
		for _, x := range X[:10] {
			before, after := c.PredictProba(x), decoded.PredictProba(x)
			for i := range before {
				if math.Abs(before[i]-after[i]) > 1e-12 {
					t.Fatalf("%s proba[%d] changed across round trip: %f vs %f",
						c.Algorithm(), i, before[i], after[i])
				}
			}
		}
	}
}

func TestDecodeRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := Decode([]byte(`{"algorithm":"mystery","payload":{}}`)); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestBandedScorerBands(t *testing.T) {
	b := NewBandedScorer([]string{
		health.FieldSteps,
		health.FieldSleepMinutes,
		health.FieldRestingHR,
		health.FieldActiveMinutes,
		health.FieldHRVSDNN,
		health.FieldVO2Max,
		health.FieldWalkingHRAvg,
	})

	// Textbook-healthy day accumulates almost no risk.
	healthy := []float64{12000, 450, 55, 45, 60, 45, 90}
	if level, _ := health.LevelFromIndex(Argmax(b.PredictProba(healthy))); level != health.RiskLow {
		t.Errorf("healthy day scored %s (score %f), want Low", level, b.Score(healthy))
	}

	// Sedentary, short-sleeping, elevated-HR day maxes nearly every rule.
	poor := []float64{1500, 250, 95, 5, 15, 20, 140}
	if got := b.Score(poor); got != 98 {
		t.Errorf("poor day score = %f, want 98", got)
	}
	if level, _ := health.LevelFromIndex(Argmax(b.PredictProba(poor))); level != health.RiskHigh {
		t.Errorf("poor day scored %s (score %f), want High", level, b.Score(poor))
	}

	// All-zero vector means everything missing: half weight everywhere puts
	// the score at exactly 50, inside the moderate band.
	missing := make([]float64, 7)
	if got := b.Score(missing); got != 50 {
		t.Errorf("all-missing score = %f, want 50", got)
	}
	if level, _ := health.LevelFromIndex(Argmax(b.PredictProba(missing))); level != health.RiskModerate {
		t.Errorf("all-missing day scored %s, want Moderate", level)
	}
}

func TestBandedTreatsZeroAsMissing(t *testing.T) {
	b := NewBandedScorer([]string{health.FieldActiveMinutes})

	// Zero collapses with null after vectorization, so it earns the neutral
	// half-weight rather than the worst active-minutes band.
	if got := b.Score([]float64{0}); got != 50 {
		t.Errorf("zero active minutes score = %f, want neutral 50", got)
	}
	// An actual low reading is scored on its band and lands above neutral.
	if got := b.Score([]float64{5}); got != 53 {
		t.Errorf("five active minutes score = %f, want 53", got)
	}
}

func TestBandedProbaArgmaxMatchesBand(t *testing.T) {
	b := NewBandedScorer([]string{health.FieldSteps})
	for _, x := range [][]float64{{12000}, {6000}, {1000}} {
		proba := b.PredictProba(x)
		sum := 0.0
		for _, p := range proba {
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("probabilities sum to %f for %v", sum, x)
		}
	}
}
