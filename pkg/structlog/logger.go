// Package structlog is a small JSON line logger with correlation IDs and a
// privacy sanitizer. Health records carry user identifiers, so any field
// that names a person is pseudonymized before it reaches the log stream.
package structlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

type ctxKeyCorrID struct{}

// Fields represents structured log fields.
type Fields map[string]interface{}

// Logger writes one JSON object per log line.
type Logger struct {
	service   string
	level     Level
	output    io.Writer
	mu        sync.Mutex
	fields    Fields
	sanitizer *Sanitizer
}

// Sanitizer pseudonymizes person-identifying fields and masks credentials.
type Sanitizer struct {
	pseudonymize []string
	mask         []string
}

// NewSanitizer creates the default sanitizer. User identifiers are replaced
// with a stable 12-hex-digit digest so one user's log lines still correlate;
// credential-like fields are blanked outright.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		pseudonymize: []string{"user_id", "external_id", "device_id", "patient"},
		mask:         []string{"password", "secret", "token", "apikey", "authorization"},
	}
}

// Sanitize returns a cleaned copy of fields.
func (s *Sanitizer) Sanitize(fields Fields) Fields {
	cleaned := make(Fields, len(fields))
	for k, v := range fields {
		key := strings.ToLower(k)
		switch {
		case matchAny(key, s.mask):
			cleaned[k] = "MASKED"
		case matchAny(key, s.pseudonymize):
			cleaned[k] = Pseudonym(fmt.Sprintf("%v", v))
		default:
			cleaned[k] = v
		}
	}
	return cleaned
}

// Pseudonym returns the stable log-safe alias for a user identifier.
func Pseudonym(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "u:" + hex.EncodeToString(sum[:6])
}

func matchAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

// NewLogger creates a structured logger for a service.
func NewLogger(serviceName string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		service:   serviceName,
		level:     level,
		output:    output,
		fields:    Fields{},
		sanitizer: NewSanitizer(),
	}
}

// WithFields returns a logger with additional base fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	child := &Logger{
		service:   l.service,
		level:     l.level,
		output:    l.output,
		sanitizer: l.sanitizer,
		fields:    make(Fields, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

// WithContext attaches the context's correlation ID, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if corrID := GetCorrelationID(ctx); corrID != "" {
		return l.WithFields(Fields{"correlation_id": corrID})
	}
	return l
}

func (l *Logger) Debug(message string, fields Fields) { l.log(LevelDebug, message, fields) }
func (l *Logger) Info(message string, fields Fields)  { l.log(LevelInfo, message, fields) }
func (l *Logger) Warn(message string, fields Fields)  { l.log(LevelWarn, message, fields) }
func (l *Logger) Error(message string, fields Fields) { l.log(LevelError, message, fields) }

// Fatal logs and exits.
func (l *Logger) Fatal(message string, fields Fields) {
	l.log(LevelFatal, message, fields)
	os.Exit(1)
}

func (l *Logger) log(level Level, message string, fields Fields) {
	if level < l.level {
		return
	}

	all := make(Fields, len(l.fields)+len(fields)+4)
	for k, v := range l.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}
	all["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	all["level"] = level.String()
	all["service"] = l.service
	all["message"] = message

	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			all["caller"] = fmt.Sprintf("%s:%d", file, line)
		}
	}

	all = l.sanitizer.Sanitize(all)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.output).Encode(all); err != nil {
		fmt.Fprintf(os.Stderr, "LOG_ERROR: failed to encode log: %v\n", err)
	}
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// ParseLevel maps a level name to a Level; unknown names get Info.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Correlation ID helpers.

// NewCorrelationID generates a sortable correlation ID.
func NewCorrelationID() string {
	return fmt.Sprintf("%d-%06d", time.Now().UnixNano(), nextSeq())
}

// ContextWithCorrelationID returns a context carrying corrID.
func ContextWithCorrelationID(ctx context.Context, corrID string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrID{}, corrID)
}

// GetCorrelationID extracts the correlation ID, or "".
func GetCorrelationID(ctx context.Context) string {
	if corrID, ok := ctx.Value(ctxKeyCorrID{}).(string); ok {
		return corrID
	}
	return ""
}

// GetOrCreateCorrelationID returns the existing ID or mints one.
func GetOrCreateCorrelationID(ctx context.Context) (context.Context, string) {
	if corrID := GetCorrelationID(ctx); corrID != "" {
		return ctx, corrID
	}
	corrID := NewCorrelationID()
	return ContextWithCorrelationID(ctx, corrID), corrID
}

var (
	seqMu sync.Mutex
	seq   uint64
)

func nextSeq() uint64 {
	seqMu.Lock()
	defer seqMu.Unlock()
	seq++
	return seq % 1000000
}
