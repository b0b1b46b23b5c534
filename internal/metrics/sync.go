// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttemptsTotal counts retried remote calls by error category.
	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_retry_attempts_total",
		Help: "Total number of retries scheduled after a failed remote call, by error category.",
	}, []string{"category"})

	// SyncPushTotal counts pushed entities by entity type and result.
	SyncPushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchvault_sync_push_total",
		Help: "Total number of entity pushes to the remote store, by entity and result.",
	}, []string{"entity", "result"})

	// SyncLastFailureCount reports the failure count of the last completed push.
	SyncLastFailureCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchvault_sync_last_failure_count",
		Help: "Number of entities that failed in the last push to the remote store.",
	})
)

// RecordRetry increments the retry counter.
func RecordRetry(category string) {
	RetryAttemptsTotal.WithLabelValues(category).Inc()
}

// RecordSyncPush increments the push counter.
func RecordSyncPush(entity, result string) {
	SyncPushTotal.WithLabelValues(entity, result).Inc()
}
