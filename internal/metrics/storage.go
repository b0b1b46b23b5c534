// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the storage, migration and
// sync subsystems. Labels are bounded enums; never put keys or entity ids in them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageFallbackTotal counts forced downgrades to the legacy backend.
	StorageFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_storage_fallback_total",
		Help: "Total number of fallbacks to the legacy backend, by reason.",
	}, []string{"reason"})

	// StorageSelfTestFailuresTotal counts adapters that failed construction or self-test.
	StorageSelfTestFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_storage_selftest_failures_total",
		Help: "Total number of adapter self-test failures, by backend.",
	}, []string{"backend"})

	// SchemaMigrationsTotal counts schema migration outcomes.
	SchemaMigrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_schema_migrations_total",
		Help: "Total number of schema migration runs, by result.",
	}, []string{"result"})

	// BackendMigrationsTotal counts backend migration outcomes.
	BackendMigrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_backend_migrations_total",
		Help: "Total number of backend migration runs, by result.",
	}, []string{"result"})

	// BackendMigrationKeysTotal counts keys copied during backend migrations.
	BackendMigrationKeysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_backend_migration_keys_total",
		Help: "Total number of keys processed by backend migrations, by result.",
	}, []string{"result"})

	// SettingsUpdatesTotal counts settings merge outcomes.
	SettingsUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_settings_updates_total",
		Help: "Total number of settings updates, by result.",
	}, []string{"result"})
)

// RecordStorageFallback increments the fallback counter.
func RecordStorageFallback(reason string) {
	StorageFallbackTotal.WithLabelValues(reason).Inc()
}

// RecordSelfTestFailure increments the self-test failure counter.
func RecordSelfTestFailure(backend string) {
	StorageSelfTestFailuresTotal.WithLabelValues(backend).Inc()
}

// RecordSchemaMigration increments the schema migration counter.
func RecordSchemaMigration(result string) {
	SchemaMigrationsTotal.WithLabelValues(result).Inc()
}

// RecordBackendMigration increments the backend migration counter.
func RecordBackendMigration(result string) {
	BackendMigrationsTotal.WithLabelValues(result).Inc()
}

// AddBackendMigrationKeys adds n to the per-result key counter.
func AddBackendMigrationKeys(result string, n int) {
	if n <= 0 {
		return
	}
	BackendMigrationKeysTotal.WithLabelValues(result).Add(float64(n))
}

// RecordSettingsUpdate increments the settings update counter.
func RecordSettingsUpdate(result string) {
	SettingsUpdatesTotal.WithLabelValues(result).Inc()
}
