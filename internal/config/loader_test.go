// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	want := Defaults()
	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, want.Storage, cfg.Storage)
	assert.Equal(t, want.Retry, cfg.Retry)
	assert.Equal(t, RemoteNone, cfg.Sync.Remote)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
dataDir: /var/lib/matchvault
logLevel: debug
storage:
  primaryEngine: badger
  probeTimeout: 750ms
  keepBackup: true
retry:
  maxRetries: 5
sync:
  enabled: true
  remote: redis
  redisAddr: localhost:6379
`)
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/matchvault", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, EngineBadger, cfg.Storage.PrimaryEngine)
	assert.Equal(t, 750*time.Millisecond, cfg.Storage.ProbeTimeout)
	assert.True(t, cfg.Storage.KeepBackup)
	assert.True(t, cfg.Storage.VerifyMigration, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, RemoteRedis, cfg.Sync.Remote)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "retry:\n  maxRetries: 5\nstorage:\n  failureCeiling: 4\n")
	t.Setenv("MATCHVAULT_RETRY_MAX_RETRIES", "7")
	t.Setenv("MATCHVAULT_STORAGE_TARGET_MODE", "legacy")
	t.Setenv("MATCHVAULT_STORAGE_LEGACY_QUOTA_BYTES", "1024")
	t.Setenv("MATCHVAULT_RETRY_MAX_DELAY", "30s")
	t.Setenv("MATCHVAULT_STORAGE_TARGET_VERSION", "3.1.0")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, 4, cfg.Storage.FailureCeiling)
	assert.Equal(t, "legacy", cfg.Storage.TargetMode)
	assert.Equal(t, int64(1024), cfg.Storage.LegacyQuotaBytes)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "3.1.0", cfg.Storage.TargetVersion)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MATCHVAULT_RETRY_MAX_RETRIES", "many")
	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Retry.MaxRetries, cfg.Retry.MaxRetries)
}

func TestLoad_StrictFile(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		match   string
	}{
		{name: "unknown key", body: "storage:\n  engine: sqlite\n", wantErr: ErrUnknownConfigField},
		{name: "multiple documents", body: "logLevel: info\n---\nlogLevel: debug\n", match: "multiple documents"},
		{name: "wrong type", body: "retry:\n  maxRetries: lots\n", match: "strict config parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.body), "").Load()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.match != "" {
				assert.Contains(t, err.Error(), tt.match)
			}
		})
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, ""), "").Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Sync, cfg.Sync)
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	assert.ErrorContains(t, err, "only YAML supported")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"bad mode", func(c *AppConfig) { c.Storage.TargetMode = "cloud" }, "storage.targetMode"},
		{"bad engine", func(c *AppConfig) { c.Storage.PrimaryEngine = "leveldb" }, "storage.primaryEngine"},
		{"zero ceiling", func(c *AppConfig) { c.Storage.FailureCeiling = 0 }, "storage.failureCeiling"},
		{"max below initial", func(c *AppConfig) { c.Retry.MaxDelay = time.Millisecond }, "retry.maxDelay"},
		{"http without url", func(c *AppConfig) { c.Sync.Remote = RemoteHTTP }, "sync.baseUrl"},
		{"redis without addr", func(c *AppConfig) { c.Sync.Remote = RemoteRedis }, "sync.redisAddr"},
		{"enabled without remote", func(c *AppConfig) { c.Sync.Enabled = true }, "sync.remote"},
		{"bad target version", func(c *AppConfig) { c.Storage.TargetVersion = "v2" }, "storage.targetVersion"},
		{"bad level", func(c *AppConfig) { c.LogLevel = "loud" }, "logLevel"},
		{"bad sampling", func(c *AppConfig) { c.Telemetry.SamplingRate = 2 }, "telemetry.samplingRate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	assert.NoError(t, Validate(Defaults()))
}

func TestUnknownEnvKeys(t *testing.T) {
	l := NewLoader("", "")
	_, err := l.Load()
	require.NoError(t, err)

	unknown := l.UnknownEnvKeys([]string{
		"MATCHVAULT_RETRY_MAX_RETRIES=3",
		"MATCHVAULT_STORAGE_ENGINE=sqlite",
		"PATH=/usr/bin",
	})
	assert.Equal(t, []string{"MATCHVAULT_STORAGE_ENGINE"}, unknown)
}
