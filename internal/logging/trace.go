// Package logging provides run ID tracing so one invocation can be followed
// across log lines, audit events and ledger records.
package logging

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const runIDKey contextKey = "run_id"

// NewRunID generates a unique, time-sortable run ID.
func NewRunID() string {
	return ulid.Make().String()
}

// WithRunID adds a run ID to context.
// If id is empty, generates a new one.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRunID()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID extracts run ID from context.
// Returns empty string if not present.
func GetRunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns l bound to the run carried by ctx, if any.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	if id := GetRunID(ctx); id != "" {
		return l.WithRun(id)
	}
	return l
}
