package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/billarchive/internal/archival/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivalConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archival.yml")
	content := []byte(`archival:
  retentionDays: 30
  batchSize: 25
  sweepInterval: 1m
  scrubEnabled: false
  scrubBatchSize: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewArchivalConfigHolder(Config{ArchivalConfigFile: path, ArchiveRetentionDays: 90}, nil)
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, 30, got.RetentionDays)
	assert.Equal(t, 25, got.BatchSize)
	assert.Equal(t, time.Minute, got.SweepInterval)
	assert.False(t, got.ScrubEnabled)
	assert.Equal(t, policy.FromDays(30), holder.Policy())
}

func TestArchivalConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archival.yml")
	require.NoError(t, os.WriteFile(path, []byte("archival:\n  retentionDays: -1\n"), 0o600))

	_, err := NewArchivalConfigHolder(Config{ArchivalConfigFile: path}, nil)
	assert.Error(t, err)
}

func TestStaticHolderDefaults(t *testing.T) {
	holder := NewStaticArchivalConfigHolder(DefaultArchivalConfig(0))
	assert.Equal(t, 90, holder.Get().RetentionDays)
	assert.Equal(t, policy.DefaultRetention, holder.Policy().Retention)
	assert.NoError(t, validateArchivalConfig(holder.Get()))
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("COLD_STORE_BACKEND", "S3")
	t.Setenv("ARCHIVE_RETENTION_DAYS", "45")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("S3_USE_SSL", "false")

	cfg := Load()
	assert.Equal(t, ColdStoreS3, cfg.ColdStore.Backend)
	assert.Equal(t, 45, cfg.ArchiveRetentionDays)
	assert.True(t, cfg.Redis.Enabled())
	assert.False(t, cfg.ColdStore.S3UseSSL)
	assert.Equal(t, "billing/", cfg.ColdStore.Prefix)
}
