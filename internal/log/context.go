// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey   ctxKey = "request_id"
	migrationIDKey ctxKey = "migration_id"
	syncRunIDKey   ctxKey = "sync_run_id"
)

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithMigrationID stores the id of the running migration in the context.
func ContextWithMigrationID(ctx context.Context, id string) context.Context {
	return withValue(ctx, migrationIDKey, id)
}

// ContextWithSyncRunID stores the id of the running sync pass in the context.
func ContextWithSyncRunID(ctx context.Context, id string) context.Context {
	return withValue(ctx, syncRunIDKey, id)
}

func withValue(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// MigrationIDFromContext extracts the migration ID from context if present.
func MigrationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, migrationIDKey)
}

// SyncRunIDFromContext extracts the sync run ID from context if present.
func SyncRunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, syncRunIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if rid := RequestIDFromContext(ctx); rid != "" {
		builder = builder.Str(FieldRequestID, rid)
		added = true
	}
	if mid := MigrationIDFromContext(ctx); mid != "" {
		builder = builder.Str(FieldMigrationID, mid)
		added = true
	}
	if sid := SyncRunIDFromContext(ctx); sid != "" {
		builder = builder.Str(FieldSyncRunID, sid)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}

// FromContext returns a logger from the context, or the base logger if none is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
