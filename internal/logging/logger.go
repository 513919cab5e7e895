// Package logging provides a thin structured-logging wrapper around logrus.
package logging

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	projectIDKey
)

// Logger wraps a *logrus.Logger tagged with a service name.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger at the given level ("debug", "info", "warn", "error")
// with the given format ("json" or "text").
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &Logger{Logger: l, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL / LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(service string) *Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithFields returns an entry tagged with the service name plus fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError returns an entry carrying the service name and the error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service}).WithError(err)
}

// WithContext attaches trace/project IDs carried on ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{"service": l.service}
	if traceID := GetTraceID(ctx); traceID != "" {
		fields["trace_id"] = traceID
	}
	if projectID := GetProjectID(ctx); projectID != "" {
		fields["project_id"] = projectID
	}
	return l.Logger.WithFields(fields)
}

// WithTraceID returns a context carrying the given trace id for later
// retrieval by WithContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID reads the trace id previously attached by WithTraceID.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithProjectID returns a context carrying the given project id.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

// GetProjectID reads the project id previously attached by WithProjectID.
func GetProjectID(ctx context.Context) string {
	v, _ := ctx.Value(projectIDKey).(string)
	return v
}

var defaultLogger = NewFromEnv("syncengine")

// Default returns the process-wide default logger.
func Default() *Logger { return defaultLogger }
