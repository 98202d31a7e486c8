package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"pulseguard/pkg/health"
)

// BatchReport accounts for every input row: rows that normalized cleanly and
// rows excluded as malformed. Nothing disappears silently.
type BatchReport struct {
	Rows      int `json:"rows"`
	Malformed int `json:"malformed"`
}

// ReadCSV normalizes a whole CSV export. Malformed rows are excluded and
// counted, never fatal; only an unreadable stream or an unknown source type
// aborts the batch.
func ReadCSV(ctx context.Context, source health.SourceType, r io.Reader) ([]health.CanonicalRecord, BatchReport, error) {
	var report BatchReport
	if !source.Valid() {
		return nil, report, fmt.Errorf("%w: %q", ErrUnrecognizedSource, source)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // wearable exports pad optional columns inconsistently

	header, err := cr.Read()
	if err != nil {
		return nil, report, fmt.Errorf("read csv header: %w", err)
	}

	var records []health.CanonicalRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A structurally broken line is a row-level failure.
			report.Malformed++
			continue
		}
		raw := make(map[string]string, len(header))
		for i, cell := range row {
			if i < len(header) {
				raw[header[i]] = cell
			}
		}
		rec, err := Normalize(source, raw)
		if err != nil {
			if errors.Is(err, ErrMalformedRow) {
				report.Malformed++
				continue
			}
			return nil, report, err
		}
		records = append(records, *rec)
		report.Rows++
	}
	return records, report, nil
}

// ReadCSVRaw reads a CSV stream into raw header->cell rows without
// normalizing them, for callers that defer normalization (the inference
// path normalizes under the artifact's pinned schema).
func ReadCSVRaw(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var rows []map[string]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		raw := make(map[string]string, len(header))
		for i, cell := range row {
			if i < len(header) {
				raw[header[i]] = cell
			}
		}
		rows = append(rows, raw)
	}
	return rows, nil
}
