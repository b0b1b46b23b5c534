// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans.
const (
	StorageBackendKey = "storage.backend"
	StorageModeKey    = "storage.mode"

	SchemaFromVersionKey = "schema.from_version"
	SchemaToVersionKey   = "schema.to_version"

	MigrationSourceKey = "migration.source"
	MigrationTargetKey = "migration.target"
	MigrationKeysKey   = "migration.keys"
	MigrationFailedKey = "migration.failed_keys"
	MigrationDryRunKey = "migration.dry_run"

	SyncEntityKey   = "sync.entity"
	SyncEntityIDKey = "sync.entity_id"
	SyncAttemptsKey = "sync.attempts"
)

// SchemaAttributes describes a schema migration span.
func SchemaAttributes(backend string, from, to int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StorageBackendKey, backend),
		attribute.Int(SchemaFromVersionKey, from),
		attribute.Int(SchemaToVersionKey, to),
	}
}

// MigrationAttributes describes a backend migration span.
func MigrationAttributes(source, target string, dryRun bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(MigrationSourceKey, source),
		attribute.String(MigrationTargetKey, target),
		attribute.Bool(MigrationDryRunKey, dryRun),
	}
}

// SyncAttributes describes one remote push; id is omitted for singletons.
func SyncAttributes(entity, id string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(SyncEntityKey, entity)}
	if id != "" {
		attrs = append(attrs, attribute.String(SyncEntityIDKey, id))
	}
	return attrs
}
