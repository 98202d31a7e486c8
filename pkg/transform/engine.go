// Package transform applies a feature schema's derivation rules to a batch
// of canonical records, producing feature rows stamped with the schema
// version. The same code path, restricted to a single user-day, backs
// inference, so training and serving can never diverge.
package transform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"pulseguard/pkg/health"
	"pulseguard/pkg/schema"
)

// ErrIncompleteAggregation is returned when a record reaches the engine
// without the (user, timestamp) identity needed for grouping.
var ErrIncompleteAggregation = errors.New("incomplete aggregation")

// Config tunes the batch engine.
type Config struct {
	// Workers bounds the per-user parallelism. Zero means GOMAXPROCS.
	Workers int
}

// Engine computes feature rows. It holds no mutable state; one engine may
// serve any number of concurrent Transform calls.
type Engine struct {
	workers int
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	w := cfg.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return &Engine{workers: w}
}

// Result is a transform outcome: the emitted rows plus the missingness
// accounting for everything that was not emitted.
type Result struct {
	Rows   []health.FeatureRow
	Report MissingnessReport
}

// Transform derives one feature row per (user, day) present in records,
// under the given schema. The computation is a pure function of its inputs:
// no wall clock, no randomness, stable output order (user, then date).
//
// Work partitions by user. A user's timeline is always processed
// sequentially in date order by a single worker; different users proceed in
// parallel.
func (e *Engine) Transform(ctx context.Context, sch *schema.FeatureSchema, records []health.CanonicalRecord) (*Result, error) {
	start := time.Now()
	if err := sch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	for i := range records {
		if records[i].UserID == "" || records[i].Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: record %d is missing user or timestamp", ErrIncompleteAggregation, i)
		}
	}

	byUser := make(map[string][]health.CanonicalRecord)
	for _, rec := range records {
		byUser[rec.UserID] = append(byUser[rec.UserID], rec)
	}
	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	// Per-user results land in indexed slots so the merge order is fixed
	// regardless of worker scheduling.
	results := make([]userResult, len(users))
	work := make(chan int)
	var wg sync.WaitGroup
	workers := e.workers
	if workers > len(users) {
		workers = len(users)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				results[idx] = transformUser(sch, users[idx], byUser[users[idx]])
			}
		}()
	}
	for idx := range users {
		select {
		case work <- idx:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(work)
	wg.Wait()

	res := &Result{Report: MissingnessReport{RejectedByFeature: make(map[string]int)}}
	var medianPending []medianRef
	for _, ur := range results {
		res.Report.TotalUserDays += ur.userDays
		res.Report.RejectedRows += ur.rejected
		for name, n := range ur.rejectedByFeature {
			res.Report.RejectedByFeature[name] += n
		}
		base := len(res.Rows)
		res.Rows = append(res.Rows, ur.rows...)
		for _, p := range ur.medianPending {
			medianPending = append(medianPending, medianRef{row: base + p.row, feature: p.feature})
		}
	}
	res.Report.EmittedRows = len(res.Rows)

	fillMedians(sch, res.Rows, medianPending)

	rowsEmitted.Add(float64(res.Report.EmittedRows))
	rowsRejected.Add(float64(res.Report.RejectedRows))
	transformDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

// medianRef points at a null cell waiting for the population median, which
// can only be known once every user's rows exist.
type medianRef struct {
	row     int
	feature string
}

type userResult struct {
	rows              []health.FeatureRow
	userDays          int
	rejected          int
	rejectedByFeature map[string]int
	medianPending     []medianRef // row index local to rows
}

// transformUser runs the full stage pipeline over one user's timeline. The
// timeline is strictly date-ordered; features are evaluated in schema
// declaration order so later features can read earlier ones.
func transformUser(sch *schema.FeatureSchema, userID string, records []health.CanonicalRecord) userResult {
	days, byDay := groupByDay(records)

	rows := make([]*health.FeatureRow, len(days))
	for i, day := range days {
		rows[i] = health.NewFeatureRow(userID, day, sch.Version)
		if level, ok := dayLabel(byDay[day]); ok {
			rows[i].Label = &level
		}
	}
	rejected := make([]bool, len(days))
	rejectedBy := make(map[string]int)
	var pending []medianRef

	for _, def := range sch.Features {
		switch def.Derivation {
		case schema.DeriveDirect:
			applyDirect(def, rows, byDay, days)
		case schema.DeriveAggregate:
			applyAggregate(def, rows, byDay, days)
		case schema.DeriveRolling:
			applyRolling(def, rows)
		case schema.DeriveImputed:
			copyFeature(def, rows)
		}

		// Null policy and per-feature imputation, in timeline order.
		var lastKnown float64
		haveLast := false
		for i, row := range rows {
			if v, ok := row.Value(def.Name); ok {
				lastKnown, haveLast = v, true
				continue
			}
			switch def.NullPolicy {
			case schema.NullCarryForward:
				if haveLast {
					row.Set(def.Name, lastKnown)
					continue
				}
			case schema.NullDefault:
				row.Set(def.Name, def.Default)
				lastKnown, haveLast = def.Default, true
				continue
			case schema.NullReject:
				if !rejected[i] {
					rejected[i] = true
				}
				rejectedBy[def.Name]++
			}
			// Still null: per-feature imputation.
			switch def.Impute {
			case schema.ImputeCarryForward:
				if haveLast {
					row.Set(def.Name, lastKnown)
				}
			case schema.ImputeMedian:
				if !rejected[i] {
					pending = append(pending, medianRef{row: i, feature: def.Name})
				}
			}
		}
	}

	out := userResult{
		userDays:          len(days),
		rejectedByFeature: rejectedBy,
	}
	// Rejected user-days are dropped here, but they were counted above:
	// emitted + rejected always equals the distinct user-days seen.
	indexMap := make([]int, len(rows))
	for i, row := range rows {
		if rejected[i] {
			indexMap[i] = -1
			out.rejected++
			continue
		}
		indexMap[i] = len(out.rows)
		out.rows = append(out.rows, *row)
	}
	for _, p := range pending {
		if mapped := indexMap[p.row]; mapped >= 0 {
			out.medianPending = append(out.medianPending, medianRef{row: mapped, feature: p.feature})
		}
	}
	return out
}

// dayLabel picks the risk label for a user-day from its records; with
// several labeled records the latest observation wins. Unknown label values
// are ignored.
func dayLabel(records []health.CanonicalRecord) (health.RiskLevel, bool) {
	var out health.RiskLevel
	found := false
	for _, rec := range records {
		if v, ok := rec.Labels["risk_level"]; ok {
			if l := health.RiskLevel(v); l.Index() >= 0 {
				out, found = l, true
			}
		}
	}
	return out, found
}

func groupByDay(records []health.CanonicalRecord) ([]time.Time, map[time.Time][]health.CanonicalRecord) {
	byDay := make(map[time.Time][]health.CanonicalRecord)
	for _, rec := range records {
		day := rec.Day()
		byDay[day] = append(byDay[day], rec)
	}
	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for _, day := range days {
		recs := byDay[day]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	}
	return days, byDay
}

// applyDirect copies the canonical field verbatim; when a day has several
// observations the last one wins.
func applyDirect(def schema.FeatureDef, rows []*health.FeatureRow, byDay map[time.Time][]health.CanonicalRecord, days []time.Time) {
	for i, day := range days {
		value, found := 0.0, false
		for _, rec := range byDay[day] {
			if v, ok := rec.Fields[def.SourceField]; ok {
				value, found = v, true
			}
		}
		if found {
			rows[i].Set(def.Name, value)
		} else {
			rows[i].SetNull(def.Name)
		}
	}
}

// applyAggregate reduces a day's raw observations of the source field.
func applyAggregate(def schema.FeatureDef, rows []*health.FeatureRow, byDay map[time.Time][]health.CanonicalRecord, days []time.Time) {
	for i, day := range days {
		var values []float64
		for _, rec := range byDay[day] {
			if v, ok := rec.Fields[def.SourceField]; ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			rows[i].SetNull(def.Name)
			continue
		}
		rows[i].Set(def.Name, reduce(def.Reduction, values))
	}
}

// applyRolling computes a trailing N-day reduction over an earlier daily
// feature. The first N-1 days have no valid window and stay null — never
// zero — so early predictions are not biased by a fabricated history.
func applyRolling(def schema.FeatureDef, rows []*health.FeatureRow) {
	n := def.WindowDays
	for i, row := range rows {
		if i < n-1 {
			row.SetNull(def.Name)
			continue
		}
		var values []float64
		for j := i - n + 1; j <= i; j++ {
			if v, ok := rows[j].Value(def.SourceField); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			row.SetNull(def.Name)
			continue
		}
		row.Set(def.Name, reduce(def.Reduction, values))
	}
}

// copyFeature seeds an imputed feature from its source; the shared null
// policy/imputation loop fills what remains.
func copyFeature(def schema.FeatureDef, rows []*health.FeatureRow) {
	for _, row := range rows {
		if v, ok := row.Value(def.SourceField); ok {
			row.Set(def.Name, v)
		} else {
			row.SetNull(def.Name)
		}
	}
}

func reduce(r schema.Reduction, values []float64) float64 {
	switch r {
	case schema.ReduceSum:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum
	case schema.ReduceCount:
		return float64(len(values))
	case schema.ReduceMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	default: // mean
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}

// fillMedians resolves median-imputed nulls once the whole batch is known.
// The median is computed over the emitted rows' non-null values, which keeps
// the result a pure function of the input batch.
func fillMedians(sch *schema.FeatureSchema, rows []health.FeatureRow, pending []medianRef) {
	if len(pending) == 0 {
		return
	}
	needed := make(map[string]bool)
	for _, p := range pending {
		needed[p.feature] = true
	}
	medians := make(map[string]float64)
	available := make(map[string]bool)
	for name := range needed {
		var values []float64
		for i := range rows {
			if v, ok := rows[i].Value(name); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			def, _ := sch.Def(name)
			medians[name] = def.Default
			available[name] = true
			continue
		}
		sort.Float64s(values)
		mid := len(values) / 2
		if len(values)%2 == 1 {
			medians[name] = values[mid]
		} else {
			medians[name] = (values[mid-1] + values[mid]) / 2
		}
		available[name] = true
	}
	for _, p := range pending {
		if available[p.feature] {
			rows[p.row].Set(p.feature, medians[p.feature])
		}
	}
}
