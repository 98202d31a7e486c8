package otelobs

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"pulseguard/pkg/structlog"
)

// HTTPAccessLogMiddleware writes one structured access line per request,
// carrying trace and span IDs when a span is active, and mirrors them into
// Trace-Id/Span-Id response headers for correlation.
func HTTPAccessLogMiddleware(log *structlog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		fields := structlog.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
			sr.Header().Set("Trace-Id", sc.TraceID().String())
			sr.Header().Set("Span-Id", sc.SpanID().String())
		}

		next.ServeHTTP(sr, r)

		fields["status"] = sr.status
		fields["duration_ms"] = time.Since(start).Milliseconds()
		log.Info("http request", fields)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
