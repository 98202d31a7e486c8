package ingest

import (
	"fmt"

	"pulseguard/pkg/health"
)

// milesToKM converts the Fitabase distance columns, which are recorded in
// miles, to the canonical kilometre field.
const milesToKM = 1.60934

// kaggleNumeric maps Fitabase column names to canonical fields. Columns
// carrying the same metric under different names (dailySteps vs
// dailyActivity) all collapse onto one canonical key.
var kaggleNumeric = map[string]string{
	"TotalSteps":           health.FieldSteps,
	"StepTotal":            health.FieldSteps,
	"Calories":             health.FieldActiveEnergy,
	"TotalMinutesAsleep":   health.FieldSleepMinutes,
	"Value":                health.FieldHeartRate, // heartrate_seconds export
	"VeryActiveMinutes":    health.FieldActiveMinutes,
	"FairlyActiveMinutes":  health.FieldActiveMinutes,
	"LightlyActiveMinutes": "", // present in dailyActivity but not canonical
}

func normalizeKaggle(raw map[string]string) (*health.CanonicalRecord, error) {
	userID, ok := firstCell(raw, "Id", "id", "user_id")
	if !ok {
		return nil, fmt.Errorf("%w: kaggle row has no Id", ErrMalformedRow)
	}
	tsCell, ok := firstCell(raw, "ActivityDate", "ActivityDay", "SleepDay", "Time", "Date", "date")
	if !ok {
		return nil, fmt.Errorf("%w: kaggle row has no date column", ErrMalformedRow)
	}
	ts, ok := parseTimestamp(tsCell)
	if !ok {
		return nil, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedRow, tsCell)
	}

	rec := &health.CanonicalRecord{
		UserID:    userID,
		Timestamp: ts,
		Source:    health.SourceKaggle,
		Fields:    make(map[string]float64),
	}

	for col, field := range kaggleNumeric {
		if field == "" {
			continue
		}
		cell, ok := raw[col]
		if !ok {
			continue
		}
		v, ok := parseFloat(cell)
		if !ok {
			continue // field-level failure degrades to null
		}
		// Active minutes arrive split across intensity columns; sum them.
		rec.Fields[field] += v
	}

	// Distance columns are miles; either name may be present.
	if cell, ok := firstCell(raw, "TotalDistance", "Distance"); ok {
		if v, ok := parseFloat(cell); ok {
			rec.Fields[health.FieldDistanceKM] = v * milesToKM
		}
	}

	if label, ok := firstCell(raw, "RiskLevel", "risk_level"); ok {
		rec.Labels = map[string]string{"risk_level": label}
	}

	return rec, nil
}
