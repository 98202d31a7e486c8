package transform

import "github.com/prometheus/client_golang/prometheus"

var (
	rowsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health",
		Subsystem: "transform",
		Name:      "rows_emitted_total",
		Help:      "Feature rows produced by batch transforms.",
	})
	rowsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health",
		Subsystem: "transform",
		Name:      "rows_rejected_total",
		Help:      "User-days excluded by reject null policies.",
	})
	transformDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "health",
		Subsystem: "transform",
		Name:      "duration_seconds",
		Help:      "Wall time of batch transforms.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	// Safe register; ignore duplicates if the package is linked twice.
	_ = prometheus.Register(rowsEmitted)
	_ = prometheus.Register(rowsRejected)
	_ = prometheus.Register(transformDuration)
}
