// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the YAML file. Pointers distinguish "unset" from the
// zero value so that an omitted key keeps its default.
type FileConfig struct {
	DataDir    *string        `yaml:"dataDir"`
	LogLevel   *string        `yaml:"logLevel"`
	LogService *string        `yaml:"logService"`
	Storage    *FileStorage   `yaml:"storage"`
	Retry      *FileRetry     `yaml:"retry"`
	Sync       *FileSync      `yaml:"sync"`
	API        *FileAPI       `yaml:"api"`
	Telemetry  *FileTelemetry `yaml:"telemetry"`
}

type FileStorage struct {
	TargetMode          *string        `yaml:"targetMode"`
	PrimaryEngine       *string        `yaml:"primaryEngine"`
	LegacyQuotaBytes    *int64         `yaml:"legacyQuotaBytes"`
	ProbeTimeout        *time.Duration `yaml:"probeTimeout"`
	FailureCeiling      *int           `yaml:"failureCeiling"`
	VerifyMigration     *bool          `yaml:"verifyMigration"`
	KeepBackup          *bool          `yaml:"keepBackup"`
	TargetSchemaVersion *int           `yaml:"targetSchemaVersion"`
	TargetVersion       *string        `yaml:"targetVersion"`
}

type FileRetry struct {
	MaxRetries   *int           `yaml:"maxRetries"`
	InitialDelay *time.Duration `yaml:"initialDelay"`
	MaxDelay     *time.Duration `yaml:"maxDelay"`
}

type FileSync struct {
	Enabled          *bool          `yaml:"enabled"`
	Remote           *string        `yaml:"remote"`
	BaseURL          *string        `yaml:"baseUrl"`
	Token            *string        `yaml:"token"`
	RedisAddr        *string        `yaml:"redisAddr"`
	RedisPassword    *string        `yaml:"redisPassword"`
	RedisPrefix      *string        `yaml:"redisPrefix"`
	RatePerSecond    *float64       `yaml:"ratePerSecond"`
	BreakerThreshold *int           `yaml:"breakerThreshold"`
	BreakerReset     *time.Duration `yaml:"breakerReset"`
	Concurrency      *int           `yaml:"concurrency"`
}

type FileAPI struct {
	ListenAddr *string `yaml:"listenAddr"`
	RateLimit  *int    `yaml:"rateLimit"`
}

type FileTelemetry struct {
	Enabled      *bool    `yaml:"enabled"`
	Exporter     *string  `yaml:"exporter"`
	Endpoint     *string  `yaml:"endpoint"`
	SamplingRate *float64 `yaml:"samplingRate"`
}

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath means ENV and defaults only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence: ENV > File > Defaults.
// Order is strict: parse file, apply env, validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	l.mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func mergeFileConfig(dst *AppConfig, src *FileConfig) {
	set(&dst.DataDir, src.DataDir)
	set(&dst.LogLevel, src.LogLevel)
	set(&dst.LogService, src.LogService)

	if s := src.Storage; s != nil {
		set(&dst.Storage.TargetMode, s.TargetMode)
		set(&dst.Storage.PrimaryEngine, s.PrimaryEngine)
		set(&dst.Storage.LegacyQuotaBytes, s.LegacyQuotaBytes)
		set(&dst.Storage.ProbeTimeout, s.ProbeTimeout)
		set(&dst.Storage.FailureCeiling, s.FailureCeiling)
		set(&dst.Storage.VerifyMigration, s.VerifyMigration)
		set(&dst.Storage.KeepBackup, s.KeepBackup)
		set(&dst.Storage.TargetSchemaVersion, s.TargetSchemaVersion)
		set(&dst.Storage.TargetVersion, s.TargetVersion)
	}
	if r := src.Retry; r != nil {
		set(&dst.Retry.MaxRetries, r.MaxRetries)
		set(&dst.Retry.InitialDelay, r.InitialDelay)
		set(&dst.Retry.MaxDelay, r.MaxDelay)
	}
	if s := src.Sync; s != nil {
		set(&dst.Sync.Enabled, s.Enabled)
		set(&dst.Sync.Remote, s.Remote)
		set(&dst.Sync.BaseURL, s.BaseURL)
		set(&dst.Sync.Token, s.Token)
		set(&dst.Sync.RedisAddr, s.RedisAddr)
		set(&dst.Sync.RedisPassword, s.RedisPassword)
		set(&dst.Sync.RedisPrefix, s.RedisPrefix)
		set(&dst.Sync.RatePerSecond, s.RatePerSecond)
		set(&dst.Sync.BreakerThreshold, s.BreakerThreshold)
		set(&dst.Sync.BreakerReset, s.BreakerReset)
		set(&dst.Sync.Concurrency, s.Concurrency)
	}
	if a := src.API; a != nil {
		set(&dst.API.ListenAddr, a.ListenAddr)
		set(&dst.API.RateLimit, a.RateLimit)
	}
	if t := src.Telemetry; t != nil {
		set(&dst.Telemetry.Enabled, t.Enabled)
		set(&dst.Telemetry.Exporter, t.Exporter)
		set(&dst.Telemetry.Endpoint, t.Endpoint)
		set(&dst.Telemetry.SamplingRate, t.SamplingRate)
	}
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("LOG_SERVICE", cfg.LogService)

	cfg.Storage.TargetMode = l.envString("STORAGE_TARGET_MODE", cfg.Storage.TargetMode)
	cfg.Storage.PrimaryEngine = l.envString("STORAGE_PRIMARY_ENGINE", cfg.Storage.PrimaryEngine)
	cfg.Storage.LegacyQuotaBytes = l.envInt64("STORAGE_LEGACY_QUOTA_BYTES", cfg.Storage.LegacyQuotaBytes)
	cfg.Storage.ProbeTimeout = l.envDuration("STORAGE_PROBE_TIMEOUT", cfg.Storage.ProbeTimeout)
	cfg.Storage.FailureCeiling = l.envInt("STORAGE_FAILURE_CEILING", cfg.Storage.FailureCeiling)
	cfg.Storage.VerifyMigration = l.envBool("STORAGE_VERIFY_MIGRATION", cfg.Storage.VerifyMigration)
	cfg.Storage.KeepBackup = l.envBool("STORAGE_KEEP_BACKUP", cfg.Storage.KeepBackup)
	cfg.Storage.TargetSchemaVersion = l.envInt("STORAGE_TARGET_SCHEMA_VERSION", cfg.Storage.TargetSchemaVersion)
	cfg.Storage.TargetVersion = l.envString("STORAGE_TARGET_VERSION", cfg.Storage.TargetVersion)

	cfg.Retry.MaxRetries = l.envInt("RETRY_MAX_RETRIES", cfg.Retry.MaxRetries)
	cfg.Retry.InitialDelay = l.envDuration("RETRY_INITIAL_DELAY", cfg.Retry.InitialDelay)
	cfg.Retry.MaxDelay = l.envDuration("RETRY_MAX_DELAY", cfg.Retry.MaxDelay)

	cfg.Sync.Enabled = l.envBool("SYNC_ENABLED", cfg.Sync.Enabled)
	cfg.Sync.Remote = l.envString("SYNC_REMOTE", cfg.Sync.Remote)
	cfg.Sync.BaseURL = l.envString("SYNC_BASE_URL", cfg.Sync.BaseURL)
	cfg.Sync.Token = l.envString("SYNC_TOKEN", cfg.Sync.Token)
	cfg.Sync.RedisAddr = l.envString("SYNC_REDIS_ADDR", cfg.Sync.RedisAddr)
	cfg.Sync.RedisPassword = l.envString("SYNC_REDIS_PASSWORD", cfg.Sync.RedisPassword)
	cfg.Sync.RedisPrefix = l.envString("SYNC_REDIS_PREFIX", cfg.Sync.RedisPrefix)
	cfg.Sync.RatePerSecond = l.envFloat("SYNC_RATE_PER_SECOND", cfg.Sync.RatePerSecond)
	cfg.Sync.BreakerThreshold = l.envInt("SYNC_BREAKER_THRESHOLD", cfg.Sync.BreakerThreshold)
	cfg.Sync.BreakerReset = l.envDuration("SYNC_BREAKER_RESET", cfg.Sync.BreakerReset)
	cfg.Sync.Concurrency = l.envInt("SYNC_CONCURRENCY", cfg.Sync.Concurrency)

	cfg.API.ListenAddr = l.envString("API_LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.RateLimit = l.envInt("API_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// Wrapper methods track which keys the loader consumed.

func (l *Loader) consume(key string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

func (l *Loader) envString(key, def string) string { return ParseString(l.consume(key), def) }

func (l *Loader) envBool(key string, def bool) bool { return ParseBool(l.consume(key), def) }

func (l *Loader) envInt(key string, def int) int { return ParseInt(l.consume(key), def) }

func (l *Loader) envInt64(key string, def int64) int64 { return ParseInt64(l.consume(key), def) }

func (l *Loader) envFloat(key string, def float64) float64 { return ParseFloat(l.consume(key), def) }

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	return ParseDuration(l.consume(key), def)
}

// UnknownEnvKeys lists MATCHVAULT_* variables in environ that Load does not
// read. Call after Load.
func (l *Loader) UnknownEnvKeys(environ []string) []string {
	var out []string
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; ok {
			continue
		}
		out = append(out, key)
	}
	return out
}
