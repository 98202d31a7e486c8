package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pulseguard/pkg/artifact"
	"pulseguard/pkg/health"
	"pulseguard/pkg/schema"
)

// ErrSchemaVersionMismatch reports a training set containing rows from more
// than one schema version, or from a version other than the requested one.
var ErrSchemaVersionMismatch = errors.New("training rows span schema versions")

// ErrNoLabeledRows reports a training set with no usable labels.
var ErrNoLabeledRows = errors.New("no labeled rows in training set")

// CandidateSpec names one algorithm to try in a training run. Params tune
// the algorithm; unknown keys are ignored.
type CandidateSpec struct {
	Algorithm string             `json:"algorithm"`
	Params    map[string]float64 `json:"params,omitempty"`
}

// CandidateResult records how one candidate fared.
type CandidateResult struct {
	Algorithm  string  `json:"algorithm"`
	Validation Metrics `json:"validation"`
	Train      Metrics `json:"train"`
	Err        string  `json:"error,omitempty"`
}

// TrainReport summarizes a completed training run.
type TrainReport struct {
	SchemaVersion int               `json:"schema_version"`
	RowCounts     RowCounts         `json:"row_counts"`
	Candidates    []CandidateResult `json:"candidates"`
	Winner        string            `json:"winner"`
	Test          Metrics           `json:"test"`
	Duration      time.Duration     `json:"duration_ns"`
}

// RowCounts breaks down how many rows reached each stage.
type RowCounts struct {
	Total      int `json:"total"`
	Labeled    int `json:"labeled"`
	Train      int `json:"train"`
	Validation int `json:"validation"`
	Test       int `json:"test"`
}

// Trainer runs the candidate search for one schema version.
type Trainer struct {
	Split SplitFractions
}

// NewTrainer returns a trainer with the default split.
func NewTrainer() *Trainer {
	return &Trainer{Split: DefaultSplit}
}

// Train fits every candidate on the labeled rows, selects the winner by
// validation macro F1, and packages it as a model artifact pinned to the
// schema version. Candidates are evaluated one at a time; a cancelled
// context stops the run at the next candidate boundary with no artifact.
func (t *Trainer) Train(ctx context.Context, sch *schema.FeatureSchema, rows []health.FeatureRow, candidates []CandidateSpec) (*artifact.Artifact, *TrainReport, error) {
	started := time.Now()
	if len(candidates) == 0 {
		return nil, nil, errors.New("no candidate algorithms given")
	}

	// Version consistency comes before any fitting: mixed-version rows mean
	// the vectors are not comparable and no amount of training fixes that.
	if err := checkVersions(sch.Version, rows); err != nil {
		return nil, nil, err
	}

	labeled := make([]health.FeatureRow, 0, len(rows))
	for _, row := range rows {
		if row.Label != nil && row.Label.Index() >= 0 {
			labeled = append(labeled, row)
		}
	}
	if len(labeled) == 0 {
		return nil, nil, ErrNoLabeledRows
	}

	train, validation, test, err := SplitRows(labeled, t.Split)
	if err != nil {
		return nil, nil, err
	}
	if len(train) == 0 {
		return nil, nil, errors.New("user hash split left the training partition empty")
	}
	// Small cohorts can hash every user into train; evaluation then falls
	// back a level rather than failing the run.
	evalSet := validation
	if len(evalSet) == 0 {
		evalSet = train
	}
	testSet := test
	if len(testSet) == 0 {
		testSet = evalSet
	}

	featureNames := sch.FeatureNames()
	Xtrain, ytrain, err := vectorizeAll(train, sch, featureNames)
	if err != nil {
		return nil, nil, err
	}
	Xval, yval, err := vectorizeAll(evalSet, sch, featureNames)
	if err != nil {
		return nil, nil, err
	}
	Xtest, ytest, err := vectorizeAll(testSet, sch, featureNames)
	if err != nil {
		return nil, nil, err
	}

	report := &TrainReport{
		SchemaVersion: sch.Version,
		RowCounts: RowCounts{
			Total:      len(rows),
			Labeled:    len(labeled),
			Train:      len(train),
			Validation: len(validation),
			Test:       len(test),
		},
	}

	classNames := levelNames()
	var winner Classifier
	var winnerF1 float64
	for _, spec := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("training cancelled before candidate %q: %w", spec.Algorithm, err)
		}
		c, err := buildCandidate(spec, featureNames)
		if err != nil {
			report.Candidates = append(report.Candidates, CandidateResult{Algorithm: spec.Algorithm, Err: err.Error()})
			continue
		}
		if err := c.Fit(Xtrain, ytrain); err != nil {
			report.Candidates = append(report.Candidates, CandidateResult{Algorithm: spec.Algorithm, Err: err.Error()})
			continue
		}
		res := CandidateResult{
			Algorithm:  spec.Algorithm,
			Train:      evaluate(c, Xtrain, ytrain, classNames),
			Validation: evaluate(c, Xval, yval, classNames),
		}
		report.Candidates = append(report.Candidates, res)
		if winner == nil || res.Validation.MacroF1 > winnerF1 {
			winner = c
			winnerF1 = res.Validation.MacroF1
			report.Winner = spec.Algorithm
		}
	}
	if winner == nil {
		return nil, report, errors.New("every candidate failed to train")
	}

	report.Test = evaluate(winner, Xtest, ytest, classNames)
	report.Duration = time.Since(started)

	encoded, err := Encode(winner)
	if err != nil {
		return nil, report, err
	}
	art := artifact.New(winner.Algorithm(), encoded, sch.Version, featureNames, map[string]float64{
		"macro_f1":      report.Test.MacroF1,
		"accuracy":      report.Test.Accuracy,
		"val_macro_f1":  winnerF1,
		"train_support": float64(len(train)),
	})
	return art, report, nil
}

func checkVersions(want int, rows []health.FeatureRow) error {
	seen := map[int]bool{}
	for _, row := range rows {
		seen[row.SchemaVersion] = true
	}
	if len(seen) == 1 && seen[want] {
		return nil
	}
	if len(seen) == 0 {
		return nil
	}
	versions := make([]int, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return fmt.Errorf("%w: want %d, found %v", ErrSchemaVersionMismatch, want, versions)
}

func vectorizeAll(rows []health.FeatureRow, sch *schema.FeatureSchema, featureNames []string) ([][]float64, []int, error) {
	X := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i := range rows {
		x, err := VectorizeRow(&rows[i], sch, featureNames)
		if err != nil {
			return nil, nil, err
		}
		X[i] = x
		y[i] = rows[i].Label.Index()
	}
	return X, y, nil
}

func buildCandidate(spec CandidateSpec, featureNames []string) (Classifier, error) {
	numClasses := len(health.Levels())
	switch spec.Algorithm {
	case AlgorithmSoftmax:
		c := NewSoftmaxRegression(numClasses)
		if v, ok := spec.Params["learning_rate"]; ok && v > 0 {
			c.LearningRate = v
		}
		if v, ok := spec.Params["epochs"]; ok && v > 0 {
			c.Epochs = int(v)
		}
		if v, ok := spec.Params["l2"]; ok && v >= 0 {
			c.L2 = v
		}
		return c, nil
	case AlgorithmForest:
		c := NewRandomForest(numClasses)
		if v, ok := spec.Params["num_trees"]; ok && v > 0 {
			c.NumTrees = int(v)
		}
		if v, ok := spec.Params["max_depth"]; ok && v > 0 {
			c.MaxDepth = int(v)
		}
		if v, ok := spec.Params["seed"]; ok {
			c.Seed = int64(v)
		}
		return c, nil
	case AlgorithmBanded:
		return NewBandedScorer(featureNames), nil
	}
	return nil, fmt.Errorf("unknown candidate algorithm %q", spec.Algorithm)
}

func evaluate(c Classifier, X [][]float64, y []int, classNames []string) Metrics {
	pred := make([]int, len(X))
	for i, x := range X {
		pred[i] = Argmax(c.PredictProba(x))
	}
	return Evaluate(y, pred, len(classNames), classNames)
}

func levelNames() []string {
	levels := health.Levels()
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}
	return names
}
