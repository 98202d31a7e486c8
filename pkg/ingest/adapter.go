// Package ingest normalizes heterogeneous raw exports into canonical
// records. One normalization rule exists per source type, dispatched by an
// explicit switch; a row survives any field-level parse failure (the field
// degrades to null) but dies on a missing identity.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulseguard/pkg/health"
)

var (
	// ErrUnrecognizedSource is returned for a source type with no
	// normalization rule.
	ErrUnrecognizedSource = errors.New("unrecognized source")
	// ErrMalformedRow is returned when the user ID or timestamp of a raw
	// row cannot be parsed. It is a per-row error: batch readers count it
	// and continue.
	ErrMalformedRow = errors.New("malformed row")
)

// Normalize converts one raw row (header name -> cell value) into a
// canonical record.
func Normalize(source health.SourceType, raw map[string]string) (*health.CanonicalRecord, error) {
	switch source {
	case health.SourceKaggle:
		return normalizeKaggle(raw)
	case health.SourceWearable:
		return normalizeWearable(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedSource, source)
	}
}

// timestampLayouts covers the formats seen across Fitabase CSVs and device
// exports. Order matters: the most specific layouts come first.
var timestampLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseFloat(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// firstCell returns the first non-empty cell among the given column names.
func firstCell(raw map[string]string, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := raw[n]; ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}
