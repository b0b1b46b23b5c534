// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Primary engines.
const (
	EngineSQLite = "sqlite"
	EngineBadger = "badger"
)

// Remote kinds.
const (
	RemoteNone  = "none"
	RemoteHTTP  = "http"
	RemoteRedis = "redis"
)

var dottedVersion = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,3}$`)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Version    string
	DataDir    string
	LogLevel   string
	LogService string
	Storage    StorageConfig
	Retry      RetryConfig
	Sync       SyncConfig
	API        APIConfig
	Telemetry  TelemetryConfig
}

// StorageConfig selects and tunes the on-device backends.
type StorageConfig struct {
	TargetMode          string
	PrimaryEngine       string
	LegacyQuotaBytes    int64
	ProbeTimeout        time.Duration
	FailureCeiling      int
	VerifyMigration     bool
	KeepBackup          bool
	TargetSchemaVersion int
	// TargetVersion is the data layout version recorded after a backend
	// migration completes.
	TargetVersion string
}

// RetryConfig bounds remote retries. MaxRetries counts total attempts.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// SyncConfig configures the remote the reconciler pushes to.
type SyncConfig struct {
	Enabled          bool
	Remote           string
	BaseURL          string
	Token            string
	RedisAddr        string
	RedisPassword    string
	RedisPrefix      string
	RatePerSecond    float64
	BreakerThreshold int
	BreakerReset     time.Duration
	Concurrency      int
}

// APIConfig configures the local diagnostics API.
type APIConfig struct {
	ListenAddr string
	RateLimit  int
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// Defaults returns the configuration used when neither file nor environment
// set a value.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:    "data",
		LogLevel:   "info",
		LogService: "matchvault",
		Storage: StorageConfig{
			TargetMode:          "primary",
			PrimaryEngine:       EngineSQLite,
			LegacyQuotaBytes:    5 << 20,
			ProbeTimeout:        3 * time.Second,
			FailureCeiling:      3,
			VerifyMigration:     true,
			TargetSchemaVersion: 2,
			TargetVersion:       "2.0.0",
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
		},
		Sync: SyncConfig{
			Remote:           RemoteNone,
			RedisPrefix:      "matchvault",
			RatePerSecond:    10,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			Concurrency:      4,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8088",
			RateLimit:  120,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Validate checks a resolved configuration.
func Validate(cfg AppConfig) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		add("dataDir", "must not be empty")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		add("logLevel", "unknown level %q", cfg.LogLevel)
	}

	switch cfg.Storage.TargetMode {
	case "legacy", "primary":
	default:
		add("storage.targetMode", "must be legacy or primary, got %q", cfg.Storage.TargetMode)
	}
	switch cfg.Storage.PrimaryEngine {
	case EngineSQLite, EngineBadger:
	default:
		add("storage.primaryEngine", "must be sqlite or badger, got %q", cfg.Storage.PrimaryEngine)
	}
	if cfg.Storage.LegacyQuotaBytes < 0 {
		add("storage.legacyQuotaBytes", "must not be negative")
	}
	if cfg.Storage.ProbeTimeout <= 0 {
		add("storage.probeTimeout", "must be positive")
	}
	if cfg.Storage.FailureCeiling < 1 {
		add("storage.failureCeiling", "must be at least 1")
	}
	if cfg.Storage.TargetSchemaVersion < 1 {
		add("storage.targetSchemaVersion", "must be at least 1")
	}
	if !dottedVersion.MatchString(cfg.Storage.TargetVersion) {
		add("storage.targetVersion", "must be a dotted numeric version, got %q", cfg.Storage.TargetVersion)
	}

	if cfg.Retry.MaxRetries < 1 {
		add("retry.maxRetries", "must be at least 1")
	}
	if cfg.Retry.InitialDelay < 0 || cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		add("retry.maxDelay", "must be at least retry.initialDelay")
	}

	switch cfg.Sync.Remote {
	case RemoteNone:
	case RemoteHTTP:
		if u, err := url.Parse(cfg.Sync.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("sync.baseUrl", "must be an absolute URL when sync.remote is http")
		}
	case RemoteRedis:
		if cfg.Sync.RedisAddr == "" {
			add("sync.redisAddr", "must be set when sync.remote is redis")
		}
	default:
		add("sync.remote", "must be none, http or redis, got %q", cfg.Sync.Remote)
	}
	if cfg.Sync.Enabled && cfg.Sync.Remote == RemoteNone {
		add("sync.remote", "must be set when sync is enabled")
	}
	if cfg.Sync.RatePerSecond < 0 {
		add("sync.ratePerSecond", "must not be negative")
	}
	if cfg.Sync.BreakerThreshold < 1 {
		add("sync.breakerThreshold", "must be at least 1")
	}
	if cfg.Sync.Concurrency < 1 {
		add("sync.concurrency", "must be at least 1")
	}

	if cfg.API.RateLimit < 0 {
		add("api.rateLimit", "must not be negative")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			add("telemetry.exporter", "must be grpc or http, got %q", cfg.Telemetry.Exporter)
		}
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate", "must be within [0, 1]")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
