package ingest

import (
	"fmt"
	"strings"

	"pulseguard/pkg/health"
)

// hkRecordTypes maps HealthKit-style record types, as they appear in a
// device export converted to CSV, onto canonical fields.
var hkRecordTypes = map[string]string{
	"HKQuantityTypeIdentifierStepCount":                health.FieldSteps,
	"HKQuantityTypeIdentifierDistanceWalkingRunning":   health.FieldDistanceKM,
	"HKQuantityTypeIdentifierActiveEnergyBurned":       health.FieldActiveEnergy,
	"HKQuantityTypeIdentifierAppleExerciseTime":        health.FieldActiveMinutes,
	"HKQuantityTypeIdentifierHeartRate":                health.FieldHeartRate,
	"HKQuantityTypeIdentifierRestingHeartRate":         health.FieldRestingHR,
	"HKQuantityTypeIdentifierVO2Max":                   health.FieldVO2Max,
	"HKQuantityTypeIdentifierWalkingHeartRateAverage":  health.FieldWalkingHRAvg,
	"HKQuantityTypeIdentifierHeartRateVariabilitySDNN": health.FieldHRVSDNN,
}

// wearableAliases maps flat daily-summary column names, as emitted by
// third-party wearable sync apps, onto canonical fields.
var wearableAliases = map[string]string{
	"hr_avg":             health.FieldHeartRate,
	"heart_rate":         health.FieldHeartRate,
	"resting_hr":         health.FieldRestingHR,
	"steps":              health.FieldSteps,
	"distance_km":        health.FieldDistanceKM,
	"active_minutes":     health.FieldActiveMinutes,
	"active_energy_kcal": health.FieldActiveEnergy,
	"sleep_minutes":      health.FieldSleepMinutes,
	"hrv_sdnn":           health.FieldHRVSDNN,
	"vo2max":             health.FieldVO2Max,
	"walking_hr_avg":     health.FieldWalkingHRAvg,
}

func normalizeWearable(raw map[string]string) (*health.CanonicalRecord, error) {
	userID, ok := firstCell(raw, "user", "user_id", "external_id")
	if !ok {
		return nil, fmt.Errorf("%w: wearable row has no user column", ErrMalformedRow)
	}
	tsCell, ok := firstCell(raw, "startDate", "start_date", "date", "timestamp")
	if !ok {
		return nil, fmt.Errorf("%w: wearable row has no start date", ErrMalformedRow)
	}
	ts, ok := parseTimestamp(tsCell)
	if !ok {
		return nil, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedRow, tsCell)
	}

	rec := &health.CanonicalRecord{
		UserID:    userID,
		Timestamp: ts,
		Source:    health.SourceWearable,
		Fields:    make(map[string]float64),
	}

	if recordType, ok := firstCell(raw, "type"); ok {
		normalizeHKRecord(rec, recordType, raw)
		return rec, nil
	}

	// Flat daily-summary shape: one column per metric.
	for col, field := range wearableAliases {
		cell, ok := raw[col]
		if !ok {
			continue
		}
		if v, ok := parseFloat(cell); ok {
			rec.Fields[field] = v
		}
	}
	if label, ok := firstCell(raw, "risk_level"); ok {
		rec.Labels = map[string]string{"risk_level": label}
	}
	return rec, nil
}

// normalizeHKRecord handles one HealthKit record line. Unknown record types
// and unparseable values leave the record empty-but-valid: partial data is
// the expected common case for wearable exports.
func normalizeHKRecord(rec *health.CanonicalRecord, recordType string, raw map[string]string) {
	if recordType == "HKCategoryTypeIdentifierSleepAnalysis" {
		// Sleep intervals: duration of "Asleep" phases in minutes.
		value, _ := firstCell(raw, "value")
		if !strings.Contains(value, "Asleep") {
			return
		}
		endCell, ok := firstCell(raw, "endDate", "end_date")
		if !ok {
			return
		}
		end, ok := parseTimestamp(endCell)
		if !ok || end.Before(rec.Timestamp) {
			return
		}
		rec.Fields[health.FieldSleepMinutes] = end.Sub(rec.Timestamp).Minutes()
		return
	}

	field, known := hkRecordTypes[recordType]
	if !known {
		return
	}
	cell, ok := firstCell(raw, "value")
	if !ok {
		return
	}
	if v, ok := parseFloat(cell); ok {
		rec.Fields[field] = v
	}
}
