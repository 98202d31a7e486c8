package transform

import "fmt"

// MissingnessReport accounts for every (user, day) pair that entered a
// transform: EmittedRows + RejectedRows always equals TotalUserDays. A row
// excluded by a reject null policy is counted here rather than disappearing.
type MissingnessReport struct {
	TotalUserDays     int            `json:"total_user_days"`
	EmittedRows       int            `json:"emitted_rows"`
	RejectedRows      int            `json:"rejected_rows"`
	RejectedByFeature map[string]int `json:"rejected_by_feature,omitempty"`
}

// RejectedFraction returns the share of user-days excluded by reject
// policies.
func (r MissingnessReport) RejectedFraction() float64 {
	if r.TotalUserDays == 0 {
		return 0
	}
	return float64(r.RejectedRows) / float64(r.TotalUserDays)
}

// MissingnessExceededError is a soft signal: the batch completed, but more
// rows were rejected than the caller's threshold allows. Callers log it and
// decide; the engine never aborts on it.
type MissingnessExceededError struct {
	Fraction float64
	Max      float64
	Report   MissingnessReport
}

func (e *MissingnessExceededError) Error() string {
	return fmt.Sprintf("missingness exceeded: %.1f%% of user-days rejected (threshold %.1f%%)",
		e.Fraction*100, e.Max*100)
}

// Check returns a MissingnessExceededError when the rejected fraction is
// above maxFraction, nil otherwise.
func (r MissingnessReport) Check(maxFraction float64) *MissingnessExceededError {
	if f := r.RejectedFraction(); f > maxFraction {
		return &MissingnessExceededError{Fraction: f, Max: maxFraction, Report: r}
	}
	return nil
}
