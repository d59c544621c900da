package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across dispatchd.
const (
	// Identity
	FieldJobID     = "job_id"
	FieldEntryID   = "entry_id"
	FieldWorkerID  = "worker_id"
	FieldPID       = "pid"
	FieldComponent = "component"
	FieldVersion   = "version"

	// Dispatch
	FieldAfter      = "after"
	FieldAttempt    = "attempt"
	FieldMode       = "mode"
	FieldRunning    = "running"
	FieldMaxRunning = "max_parallel"
	FieldExitCode   = "exit_code"
	FieldState      = "state"
	FieldReason     = "reason"

	// Store
	FieldEngine   = "engine"
	FieldHost     = "host"
	FieldDatabase = "database"
	FieldClass    = "class"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDelay      = "delay"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount    = "count"
	FieldMemoryMB = "memory_mb"
	FieldLimitMB  = "limit_mb"

	// Symbol glyph for the emitting subsystem (꩜, ✿, ❀, ⊔)
	FieldSymbol = "symbol"
)

type contextKey string

const (
	jobIDKey    contextKey = "logger_job_id"
	workerIDKey contextKey = "logger_worker_id"
)

// WithJobID adds a job reference to the context for logging
func WithJobID(ctx context.Context, jobRef int64) context.Context {
	return context.WithValue(ctx, jobIDKey, jobRef)
}

// WithWorkerID adds the isolated worker's invocation id to the context
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// FieldsFromContext extracts logging fields from context.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobRef, ok := ctx.Value(jobIDKey).(int64); ok {
		fields = append(fields, FieldJobID, jobRef)
	}
	if workerID, ok := ctx.Value(workerIDKey).(string); ok && workerID != "" {
		fields = append(fields, FieldWorkerID, workerID)
	}

	return fields
}

// LoggerFromContext returns base enriched with fields carried by ctx.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection:
//
//	sup := supervisor.New(cfg, launcher, logger.ComponentLogger("pulse.supervisor"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
