// Package logging provides structured logging with trace ID support for the
// graph control plane.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys used to carry logging metadata.
type ContextKey string

const (
	// TraceIDKey is the context key for the per-call trace ID.
	TraceIDKey ContextKey = "trace_id"
	// GraphIDKey is the context key for the graph ID a call is operating on.
	GraphIDKey ContextKey = "graph_id"
	// TenantIDKey is the context key for the owning tenant.
	TenantIDKey ContextKey = "tenant_id"
)

// Logger wraps logrus.Logger with control-plane specific helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance for the given component name.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables, defaulting to "info" and "json" when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext creates a log entry enriched with trace/graph/tenant IDs found
// on the context.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if graphID := ctx.Value(GraphIDKey); graphID != nil {
		entry = entry.WithField("graph_id", graphID)
	}
	if tenantID := ctx.Value(TenantIDKey); tenantID != nil {
		entry = entry.WithField("tenant_id", tenantID)
	}

	return entry
}

// WithFields creates a log entry with custom fields plus the component tag.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates a log entry carrying an error plus the component tag.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// SetOutput overrides the logger's output sink (used by tests).
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// NewTraceID generates a new random trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithGraphID returns a context carrying the given graph ID.
func WithGraphID(ctx context.Context, graphID string) context.Context {
	return context.WithValue(ctx, GraphIDKey, graphID)
}
