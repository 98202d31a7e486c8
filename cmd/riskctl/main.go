// riskctl runs the health-risk pipeline against local files: normalize a
// raw export, derive feature rows, train a model, and score a day, all
// without a running service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"pulseguard/pkg/artifact"
	"pulseguard/pkg/health"
	"pulseguard/pkg/infer"
	"pulseguard/pkg/ingest"
	"pulseguard/pkg/model"
	"pulseguard/pkg/schema"
	"pulseguard/pkg/storage"
	"pulseguard/pkg/transform"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, os.Args[2:])
	case "transform":
		err = runTransform(ctx, os.Args[2:])
	case "train":
		err = runTrain(ctx, os.Args[2:])
	case "predict":
		err = runPredict(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "riskctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: riskctl <command> [flags]

commands:
  ingest     normalize a raw CSV export and report row counts
  transform  derive feature rows from a raw CSV export
  train      train candidate models on stored feature rows
  predict    score one user-day from a raw CSV export`)
}

// loadSchema returns the schema to work under: the built-in default, or the
// contents of -schema when given.
func loadSchema(path string) (*schema.FeatureSchema, error) {
	if path == "" {
		return schema.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var sch schema.FeatureSchema
	if err := json.Unmarshal(data, &sch); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	if err := sch.Validate(); err != nil {
		return nil, err
	}
	return &sch, nil
}

func readRecords(source, file string) ([]health.CanonicalRecord, ingest.BatchReport, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, ingest.BatchReport{}, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return ingest.ReadCSV(context.Background(), health.SourceType(source), f)
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", "kaggle", "source type: kaggle or wearable")
	file := fs.String("file", "", "raw CSV export to normalize")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	records, report, err := readRecords(*source, *file)
	if err != nil {
		return err
	}
	users := make(map[string]bool)
	for _, rec := range records {
		users[rec.UserID] = true
	}
	return printJSON(map[string]interface{}{
		"rows_normalized": report.Rows,
		"malformed":       report.Malformed,
		"users":           len(users),
	})
}

func runTransform(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	source := fs.String("source", "kaggle", "source type: kaggle or wearable")
	file := fs.String("file", "", "raw CSV export to transform")
	schemaPath := fs.String("schema", "", "schema JSON file (default: built-in schema)")
	dataDir := fs.String("data", "./data", "local data directory")
	maxMissing := fs.Float64("max-missingness", 0.5, "warn when the rejected fraction exceeds this")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	sch, err := loadSchema(*schemaPath)
	if err != nil {
		return err
	}
	records, batchReport, err := readRecords(*source, *file)
	if err != nil {
		return err
	}

	result, err := transform.NewEngine(transform.Config{}).Transform(ctx, sch, records)
	if err != nil {
		return err
	}
	if soft := result.Report.Check(*maxMissing); soft != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", soft)
	}

	store, err := storage.NewLocalStore(*dataDir)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(result.Rows)
	if err != nil {
		return fmt.Errorf("encode feature rows: %w", err)
	}
	key := fmt.Sprintf("rows/v%d.json", sch.Version)
	if err := store.Put(ctx, key, encoded); err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"schema_version": sch.Version,
		"malformed":      batchReport.Malformed,
		"rows_emitted":   len(result.Rows),
		"report":         result.Report,
		"stored_as":      key,
	})
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	schemaPath := fs.String("schema", "", "schema JSON file (default: built-in schema)")
	dataDir := fs.String("data", "./data", "local data directory")
	artifactDir := fs.String("artifacts", "./artifacts", "artifact directory")
	algorithms := fs.String("algorithms", "softmax,forest,banded", "comma-separated candidate algorithms")
	fs.Parse(args)

	sch, err := loadSchema(*schemaPath)
	if err != nil {
		return err
	}
	store, err := storage.NewLocalStore(*dataDir)
	if err != nil {
		return err
	}
	encoded, err := store.Get(ctx, fmt.Sprintf("rows/v%d.json", sch.Version))
	if err != nil {
		return fmt.Errorf("no stored feature rows for schema version %d, run transform first: %w", sch.Version, err)
	}
	var rows []health.FeatureRow
	if err := json.Unmarshal(encoded, &rows); err != nil {
		return fmt.Errorf("decode stored feature rows: %w", err)
	}

	var candidates []model.CandidateSpec
	for _, alg := range strings.Split(*algorithms, ",") {
		if alg = strings.TrimSpace(alg); alg != "" {
			candidates = append(candidates, model.CandidateSpec{Algorithm: alg})
		}
	}
	art, report, err := model.NewTrainer().Train(ctx, sch, rows, candidates)
	if err != nil {
		return err
	}

	artifacts, err := artifact.NewFileStore(*artifactDir, nil)
	if err != nil {
		return err
	}
	if err := artifacts.Put(ctx, art); err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"artifact": art.Metadata,
		"report":   report,
	})
}

func runPredict(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	source := fs.String("source", "wearable", "source type: kaggle or wearable")
	file := fs.String("file", "", "raw CSV export holding one user-day")
	schemaPath := fs.String("schema", "", "schema JSON file (default: built-in schema)")
	artifactDir := fs.String("artifacts", "./artifacts", "artifact directory")
	artifactID := fs.String("artifact", "", "artifact ID to score with")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	if *artifactID == "" {
		return fmt.Errorf("-artifact is required")
	}

	sch, err := loadSchema(*schemaPath)
	if err != nil {
		return err
	}
	registry := schema.NewMemoryRegistry()
	if _, err := registry.Register(ctx, sch); err != nil {
		return err
	}
	artifacts, err := artifact.NewFileStore(*artifactDir, nil)
	if err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	rows, err := ingest.ReadCSVRaw(f)
	f.Close()
	if err != nil {
		return err
	}

	pred, err := infer.NewAdapter(registry, artifacts).Predict(ctx, health.SourceType(*source), rows, *artifactID)
	if err != nil {
		return err
	}
	return printJSON(pred)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
