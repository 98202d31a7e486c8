package ingest

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"pulseguard/pkg/health"
)

func TestNormalizeKaggleDailyActivity(t *testing.T) {
	rec, err := Normalize(health.SourceKaggle, map[string]string{
		"Id":                  "1503960366",
		"ActivityDate":        "4/12/2016",
		"TotalSteps":          "13162",
		"TotalDistance":       "8.5",
		"Calories":            "1985",
		"VeryActiveMinutes":   "25",
		"FairlyActiveMinutes": "13",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.UserID != "1503960366" {
		t.Errorf("user id = %q", rec.UserID)
	}
	if rec.Source != health.SourceKaggle {
		t.Errorf("source = %q", rec.Source)
	}
	if got := rec.Timestamp; got.Year() != 2016 || got.Month() != time.April || got.Day() != 12 {
		t.Errorf("timestamp = %v", got)
	}
	if rec.Fields[health.FieldSteps] != 13162 {
		t.Errorf("steps = %v", rec.Fields[health.FieldSteps])
	}
	if got := rec.Fields[health.FieldDistanceKM]; math.Abs(got-8.5*1.60934) > 1e-9 {
		t.Errorf("distance_km = %v, want miles converted", got)
	}
	if rec.Fields[health.FieldActiveMinutes] != 38 {
		t.Errorf("active_minutes = %v, want summed intensity columns", rec.Fields[health.FieldActiveMinutes])
	}
}

func TestNormalizeKaggleHeartRateSeconds(t *testing.T) {
	rec, err := Normalize(health.SourceKaggle, map[string]string{
		"Id":    "2022484408",
		"Time":  "4/12/2016 7:21:00 AM",
		"Value": "97",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Fields[health.FieldHeartRate] != 97 {
		t.Errorf("heart_rate = %v", rec.Fields[health.FieldHeartRate])
	}
	if rec.Timestamp.Hour() != 7 || rec.Timestamp.Minute() != 21 {
		t.Errorf("timestamp = %v", rec.Timestamp)
	}
}

func TestNormalizeWearableFlatRow(t *testing.T) {
	rec, err := Normalize(health.SourceWearable, map[string]string{
		"user":   "kiki",
		"date":   "2024-03-01",
		"hr_avg": "72.5",
		"steps":  "8040",
		"vo2max": "41.2",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// hr_avg is the wearable alias for the canonical heart_rate key.
	if rec.Fields[health.FieldHeartRate] != 72.5 {
		t.Errorf("heart_rate = %v", rec.Fields[health.FieldHeartRate])
	}
	if rec.Fields[health.FieldVO2Max] != 41.2 {
		t.Errorf("vo2max = %v", rec.Fields[health.FieldVO2Max])
	}
}

func TestNormalizeWearableHKRecords(t *testing.T) {
	steps, err := Normalize(health.SourceWearable, map[string]string{
		"user":      "kiki",
		"type":      "HKQuantityTypeIdentifierStepCount",
		"value":     "523",
		"startDate": "2024-03-01 09:00:00",
	})
	if err != nil {
		t.Fatalf("normalize steps: %v", err)
	}
	if steps.Fields[health.FieldSteps] != 523 {
		t.Errorf("steps = %v", steps.Fields[health.FieldSteps])
	}

	sleep, err := Normalize(health.SourceWearable, map[string]string{
		"user":      "kiki",
		"type":      "HKCategoryTypeIdentifierSleepAnalysis",
		"value":     "HKCategoryValueSleepAnalysisAsleepCore",
		"startDate": "2024-03-01 23:30:00",
		"endDate":   "2024-03-02 06:30:00",
	})
	if err != nil {
		t.Fatalf("normalize sleep: %v", err)
	}
	if got := sleep.Fields[health.FieldSleepMinutes]; got != 420 {
		t.Errorf("sleep_minutes = %v, want 420", got)
	}

	awake, err := Normalize(health.SourceWearable, map[string]string{
		"user":      "kiki",
		"type":      "HKCategoryTypeIdentifierSleepAnalysis",
		"value":     "HKCategoryValueSleepAnalysisInBed",
		"startDate": "2024-03-01 23:00:00",
		"endDate":   "2024-03-01 23:30:00",
	})
	if err != nil {
		t.Fatalf("normalize in-bed: %v", err)
	}
	if _, ok := awake.Fields[health.FieldSleepMinutes]; ok {
		t.Error("in-bed interval should not count as sleep")
	}
}

func TestNormalizeFieldFailureDegradesToNull(t *testing.T) {
	rec, err := Normalize(health.SourceKaggle, map[string]string{
		"Id":           "42",
		"ActivityDate": "4/12/2016",
		"TotalSteps":   "not-a-number",
		"Calories":     "1800",
	})
	if err != nil {
		t.Fatalf("row must survive a bad field: %v", err)
	}
	if _, ok := rec.Fields[health.FieldSteps]; ok {
		t.Error("unparseable steps should be absent, not zero")
	}
	if rec.Fields[health.FieldActiveEnergy] != 1800 {
		t.Errorf("calories = %v", rec.Fields[health.FieldActiveEnergy])
	}
}

func TestNormalizeMalformedIdentity(t *testing.T) {
	if _, err := Normalize(health.SourceKaggle, map[string]string{"ActivityDate": "4/12/2016"}); !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("missing Id: got %v", err)
	}
	if _, err := Normalize(health.SourceWearable, map[string]string{"user": "kiki", "date": "yesterday-ish"}); !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("bad timestamp: got %v", err)
	}
	if _, err := Normalize("garmin", map[string]string{}); !errors.Is(err, ErrUnrecognizedSource) {
		t.Fatalf("unknown source: got %v", err)
	}
}

func TestReadCSVCountsMalformedRows(t *testing.T) {
	csvData := strings.Join([]string{
		"Id,ActivityDate,TotalSteps",
		"1,4/12/2016,1000",
		",4/13/2016,2000",
		"3,not-a-date,3000",
		"4,4/14/2016,4000",
	}, "\n")

	records, report, err := ReadCSV(context.Background(), health.SourceKaggle, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if report.Rows != 2 || report.Malformed != 2 {
		t.Fatalf("report = %+v, want 2 rows / 2 malformed", report)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].UserID != "1" || records[1].UserID != "4" {
		t.Errorf("unexpected survivors: %s, %s", records[0].UserID, records[1].UserID)
	}
}

func TestReadCSVUnknownSource(t *testing.T) {
	_, _, err := ReadCSV(context.Background(), "fax", strings.NewReader("a,b\n1,2\n"))
	if !errors.Is(err, ErrUnrecognizedSource) {
		t.Fatalf("got %v", err)
	}
}
