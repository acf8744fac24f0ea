// Package telemetry provides the structured logging and metrics-sink glue
// the entity cache is wired through: interfaces the cache calls against,
// plus a default JSON-structured logger. JSON log entries go through the
// stdlib log package, with google/uuid for correlation IDs and log level
// chosen by severity rather than a leveled logging library.
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "entitycache-request-id"

// NewRequestID mints a correlation ID for a single inbound subgraph
// request.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID attaches a correlation ID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext reads back a correlation ID attached by
// WithRequestID, returning "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger is a structured logger carrying the cache=entity tag on every
// line.
type Logger struct{}

// NewLogger returns the default structured logger.
func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) emit(level, message string, ctx context.Context, fields map[string]any) {
	entry := map[string]any{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"cache":      "entity",
		"request_id": RequestIDFromContext(ctx),
		"message":    message,
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[ERROR] cache=entity failed to marshal log entry: %v", err)
		return
	}
	log.Printf("[%s] %s", level, string(data))
}

// Info logs a routine event (cache hit/miss, key computed, write-back
// scheduled).
func (l *Logger) Info(ctx context.Context, message string, fields map[string]any) {
	l.emit("INFO", message, ctx, fields)
}

// Warn logs a degraded-but-handled condition (KV failure treated as miss,
// cache-control parse failure treated as no-store).
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]any) {
	l.emit("WARN", message, ctx, fields)
}

// Error logs a request-failing condition (malformed request/response).
func (l *Logger) Error(ctx context.Context, message string, fields map[string]any) {
	l.emit("ERROR", message, ctx, fields)
}

// MetricsSink is the interface the router's real metrics system
// implements; the entity cache only ever writes to it, never reads.
// Concrete implementations live in telemetry/prometheus.
type MetricsSink interface {
	// RecordLookup records one cache lookup outcome for subgraph, and for
	// typename when per-type metrics are enabled ("" otherwise).
	RecordLookup(subgraph, typename string, hit bool)
	// RecordInvalidation records one invalidation scan's deleted-key count
	// for subgraph, tagged by origin ("extensions" or "external").
	RecordInvalidation(subgraph, origin string, deleted int)
}

// NoopSink discards every call; used when metrics are disabled.
type NoopSink struct{}

func (NoopSink) RecordLookup(string, string, bool)       {}
func (NoopSink) RecordInvalidation(string, string, int) {}
