package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"pulseguard/pkg/health"
	"pulseguard/pkg/schema"
)

func trainerSchema(version int) *schema.FeatureSchema {
	return &schema.FeatureSchema{
		Version:   version,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Features: []schema.FeatureDef{
			{Name: "steps", Type: schema.TypeNumeric, Derivation: schema.DeriveAggregate,
				SourceField: health.FieldSteps, Reduction: schema.ReduceSum, NullPolicy: schema.NullAllow},
			{Name: "sleep_minutes", Type: schema.TypeNumeric, Derivation: schema.DeriveAggregate,
				SourceField: health.FieldSleepMinutes, Reduction: schema.ReduceSum, NullPolicy: schema.NullAllow},
		},
	}
}

// trainerRows builds a clean, separable cohort: class decided by step count.
func trainerRows(version, users, daysPerUser int) []health.FeatureRow {
	var rows []health.FeatureRow
	for u := 0; u < users; u++ {
		level := health.Levels()[u%3]
		var steps, sleep float64
		switch level {
		case health.RiskHigh:
			steps, sleep = 1200, 280
		case health.RiskModerate:
			steps, sleep = 6200, 380
		case health.RiskLow:
			steps, sleep = 12500, 440
		}
		for d := 0; d < daysPerUser; d++ {
			row := health.NewFeatureRow(fmt.Sprintf("cohort-user-%d", u),
				time.Date(2024, 3, 1+d, 0, 0, 0, 0, time.UTC), version)
			row.Set("steps", steps+float64(d)*15)
			row.Set("sleep_minutes", sleep+float64(d))
			l := level
			row.Label = &l
			rows = append(rows, *row)
		}
	}
	return rows
}

func TestTrainSelectsWinnerAndPinsSchema(t *testing.T) {
	sch := trainerSchema(3)
	rows := trainerRows(3, 30, 4)
	candidates := []CandidateSpec{
		{Algorithm: AlgorithmSoftmax},
		{Algorithm: AlgorithmForest, Params: map[string]float64{"num_trees": 25, "seed": 7}},
		{Algorithm: AlgorithmBanded},
	}

	art, report, err := NewTrainer().Train(context.Background(), sch, rows, candidates)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if art.Metadata.SchemaVersion != 3 {
		t.Errorf("artifact schema version = %d, want 3", art.Metadata.SchemaVersion)
	}
	if got, want := fmt.Sprint(art.Metadata.FeatureNames), fmt.Sprint(sch.FeatureNames()); got != want {
		t.Errorf("artifact feature order = %s, want %s", got, want)
	}
	if art.Metadata.ID == "" || art.Metadata.ModelHash == "" {
		t.Error("artifact missing identity fields")
	}
	if len(report.Candidates) != 3 {
		t.Fatalf("evaluated %d candidates, want 3", len(report.Candidates))
	}
	if report.Winner == "" {
		t.Fatal("no winner recorded")
	}
	if report.Test.Accuracy < 0.9 {
		t.Errorf("test accuracy %f on separable data, want >= 0.9", report.Test.Accuracy)
	}
	if report.RowCounts.Labeled != len(rows) {
		t.Errorf("labeled count = %d, want %d", report.RowCounts.Labeled, len(rows))
	}

	// Winner must round-trip through the artifact bytes.
	c, err := Decode(art.Model)
	if err != nil {
		t.Fatalf("decode winner: %v", err)
	}
	if c.Algorithm() != report.Winner {
		t.Errorf("artifact algorithm %s, report winner %s", c.Algorithm(), report.Winner)
	}
}

func TestTrainRejectsMixedSchemaVersions(t *testing.T) {
	sch := trainerSchema(3)
	rows := trainerRows(3, 6, 2)
	rows = append(rows, trainerRows(2, 2, 2)...)

	_, _, err := NewTrainer().Train(context.Background(), sch, rows, []CandidateSpec{{Algorithm: AlgorithmSoftmax}})
	if !errors.Is(err, ErrSchemaVersionMismatch) {
		t.Fatalf("err = %v, want ErrSchemaVersionMismatch", err)
	}
	// The message names the versions found so the caller can re-transform.
	if err != nil && (!strings.Contains(err.Error(), "2") || !strings.Contains(err.Error(), "3")) {
		t.Errorf("error should list found versions: %v", err)
	}
}

func TestTrainRejectsUnlabeledSet(t *testing.T) {
	sch := trainerSchema(1)
	rows := trainerRows(1, 6, 2)
	for i := range rows {
		rows[i].Label = nil
	}
	_, _, err := NewTrainer().Train(context.Background(), sch, rows, []CandidateSpec{{Algorithm: AlgorithmSoftmax}})
	if !errors.Is(err, ErrNoLabeledRows) {
		t.Fatalf("err = %v, want ErrNoLabeledRows", err)
	}
}

func TestTrainSkipsUnlabeledRows(t *testing.T) {
	sch := trainerSchema(1)
	rows := trainerRows(1, 30, 3)
	unlabeled := 0
	for i := range rows {
		if i%3 == 0 {
			rows[i].Label = nil
			unlabeled++
		}
	}
	_, report, err := NewTrainer().Train(context.Background(), sch, rows, []CandidateSpec{{Algorithm: AlgorithmForest}})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if report.RowCounts.Labeled != len(rows)-unlabeled {
		t.Errorf("labeled = %d, want %d", report.RowCounts.Labeled, len(rows)-unlabeled)
	}
}

func TestTrainCancelledContext(t *testing.T) {
	sch := trainerSchema(1)
	rows := trainerRows(1, 12, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewTrainer().Train(ctx, sch, rows, []CandidateSpec{{Algorithm: AlgorithmSoftmax}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTrainUnknownCandidateDoesNotWin(t *testing.T) {
	sch := trainerSchema(1)
	rows := trainerRows(1, 15, 2)
	_, report, err := NewTrainer().Train(context.Background(), sch, rows, []CandidateSpec{
		{Algorithm: "gradient_sorcery"},
		{Algorithm: AlgorithmBanded},
	})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if report.Winner != AlgorithmBanded {
		t.Fatalf("winner = %s, want banded", report.Winner)
	}
	if report.Candidates[0].Err == "" {
		t.Error("unknown candidate should record its error")
	}
}
