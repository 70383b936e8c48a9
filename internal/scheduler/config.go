package scheduler

import (
	"time"

	"github.com/smallbiznis/billarchive/internal/config"
)

const (
	JobArchiveSweep   = "archive_sweep"
	JobIntegrityScrub = "integrity_scrub"
)

// Config controls archiver intervals, batch sizes and retries.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	ScrubEnabled   bool
	ScrubBatchSize int
	EnabledJobs    []string

	JobTimeout  time.Duration
	LockTTL     time.Duration
	MaxAttempts int
	// RetryInitialInterval and RetryMaxInterval bound the exponential
	// backoff between migration attempts of a single record.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:          10 * time.Minute,
		BatchSize:            100,
		ScrubEnabled:         true,
		ScrubBatchSize:       200,
		JobTimeout:           5 * time.Minute,
		LockTTL:              2 * time.Minute,
		MaxAttempts:          3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ScrubBatchSize <= 0 {
		c.ScrubBatchSize = defaults.ScrubBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = defaults.RetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = defaults.RetryMaxInterval
	}
	return c
}

// withArchival overlays the hot-reloadable tunables.
func (c Config) withArchival(archival config.ArchivalConfig) Config {
	if archival.BatchSize > 0 {
		c.BatchSize = archival.BatchSize
	}
	if archival.ScrubBatchSize > 0 {
		c.ScrubBatchSize = archival.ScrubBatchSize
	}
	c.ScrubEnabled = archival.ScrubEnabled
	return c
}

// ProvideConfig builds the archiver config from the environment and the
// archival settings loaded at startup. The sweep interval is fixed for the
// life of the process; batch sizes are re-read before every run.
func ProvideConfig(cfg config.Config, holder *config.ArchivalConfigHolder) Config {
	out := DefaultConfig()
	out.EnabledJobs = cfg.ArchiverEnabledJobs
	if holder != nil {
		archival := holder.Get()
		out = out.withArchival(archival)
		if archival.SweepInterval > 0 {
			out.RunInterval = archival.SweepInterval
		}
	}
	if cfg.ArchiverRunInterval > 0 {
		out.RunInterval = cfg.ArchiverRunInterval
	}
	return out.withDefaults()
}
