package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/billarchive/internal/archival/policy"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ArchivalConfig holds the tunables that may change while the process runs.
type ArchivalConfig struct {
	RetentionDays  int           `mapstructure:"retentionDays"`
	BatchSize      int           `mapstructure:"batchSize"`
	SweepInterval  time.Duration `mapstructure:"sweepInterval"`
	ScrubEnabled   bool          `mapstructure:"scrubEnabled"`
	ScrubBatchSize int           `mapstructure:"scrubBatchSize"`
}

func DefaultArchivalConfig(retentionDays int) ArchivalConfig {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return ArchivalConfig{
		RetentionDays:  retentionDays,
		BatchSize:      100,
		SweepInterval:  10 * time.Minute,
		ScrubEnabled:   true,
		ScrubBatchSize: 200,
	}
}

type ArchivalConfigHolder struct {
	current atomic.Value // holds ArchivalConfig
}

// NewStaticArchivalConfigHolder returns a holder that never reloads.
func NewStaticArchivalConfigHolder(cfg ArchivalConfig) *ArchivalConfigHolder {
	holder := &ArchivalConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewArchivalConfigHolder reads archival.yml (or ARCHIVAL_CONFIG_FILE) and
// watches it for changes. A missing file falls back to the env defaults.
func NewArchivalConfigHolder(cfg Config, log *zap.Logger) (*ArchivalConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("archival-config")

	v := viper.New()
	if cfg.ArchivalConfigFile != "" {
		v.SetConfigFile(cfg.ArchivalConfigFile)
	} else {
		v.SetConfigName("archival")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/billarchive/config")
		v.AddConfigPath("/etc/billarchive")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BILLARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultArchivalConfig(cfg.ArchiveRetentionDays)
	v.SetDefault("archival.retentionDays", defaults.RetentionDays)
	v.SetDefault("archival.batchSize", defaults.BatchSize)
	v.SetDefault("archival.sweepInterval", defaults.SweepInterval)
	v.SetDefault("archival.scrubEnabled", defaults.ScrubEnabled)
	v.SetDefault("archival.scrubBatchSize", defaults.ScrubBatchSize)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	archival, err := decodeArchivalConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateArchivalConfig(archival); err != nil {
		return nil, err
	}

	holder := NewStaticArchivalConfigHolder(archival)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeArchivalConfig(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateArchivalConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name), zap.Int("retention_days", updated.RetentionDays))
	})

	return holder, nil
}

func (h *ArchivalConfigHolder) Get() ArchivalConfig {
	return h.current.Load().(ArchivalConfig)
}

// Policy implements policy.Provider with the retention currently in force.
func (h *ArchivalConfigHolder) Policy() policy.Policy {
	return policy.FromDays(h.Get().RetentionDays)
}

// decodeArchivalConfig goes through AllSettings so keys missing from the file
// keep their defaults.
func decodeArchivalConfig(v *viper.Viper) (ArchivalConfig, error) {
	var file struct {
		Archival ArchivalConfig `mapstructure:"archival"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return ArchivalConfig{}, err
	}
	return file.Archival, nil
}

func validateArchivalConfig(cfg ArchivalConfig) error {
	if cfg.RetentionDays <= 0 {
		return errors.New("archival.retentionDays must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("archival.batchSize must be positive")
	}
	if cfg.SweepInterval < time.Second {
		return errors.New("archival.sweepInterval must be at least 1s")
	}
	if cfg.ScrubBatchSize <= 0 {
		return errors.New("archival.scrubBatchSize must be positive")
	}
	return nil
}
