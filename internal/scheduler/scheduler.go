package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	"github.com/smallbiznis/billarchive/internal/archival/policy"
	"github.com/smallbiznis/billarchive/internal/clock"
	"github.com/smallbiznis/billarchive/internal/config"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	obsmetrics "github.com/smallbiznis/billarchive/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Locker serialises work on a single record across archiver replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Hot       hotstoredomain.Store
	Migrator  archivaldomain.Migrator
	Retriever archivaldomain.Retriever
	Policy    policy.Provider
	Clock     clock.Clock
	GenID     *snowflake.Node
	Log       *zap.Logger

	Locker   Locker                         `optional:"true"`
	Archival *config.ArchivalConfigHolder   `optional:"true"`
	Metrics  *obsmetrics.ArchivalJobMetrics `optional:"true"`
	Config   Config                         `optional:"true"`
}

type Scheduler struct {
	hot       hotstoredomain.Store
	migrator  archivaldomain.Migrator
	retriever archivaldomain.Retriever
	policy    policy.Provider
	clock     clock.Clock
	genID     *snowflake.Node
	log       *zap.Logger
	locker    Locker
	archival  *config.ArchivalConfigHolder
	metrics   *obsmetrics.ArchivalJobMetrics
	cfg       Config
}

func New(p Params) (*Scheduler, error) {
	if p.Hot == nil || p.Migrator == nil || p.Retriever == nil {
		return nil, errors.New("scheduler: hot store, migrator and retriever are required")
	}
	if p.GenID == nil {
		return nil, errors.New("scheduler: id generator is required")
	}
	if p.Policy == nil {
		p.Policy = policy.Static(policy.Default())
	}
	if p.Clock == nil {
		p.Clock = clock.System()
	}
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = obsmetrics.ArchivalJobs()
	}

	return &Scheduler{
		hot:       p.Hot,
		migrator:  p.Migrator,
		retriever: p.Retriever,
		policy:    p.Policy,
		clock:     p.Clock,
		genID:     p.GenID,
		log:       p.Log.Named("scheduler"),
		locker:    p.Locker,
		archival:  p.Archival,
		metrics:   p.Metrics,
		cfg:       p.Config.withDefaults(),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline ends the run early; the next tick resumes from the hot store.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.currentConfig()
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobArchiveSweep, s.isJobEnabled(JobArchiveSweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobArchiveSweep, cfg.BatchSize, cfg.JobTimeout, func(ctx context.Context) error {
				return s.archiveSweep(ctx, cfg)
			})
		}},
		{JobIntegrityScrub, cfg.ScrubEnabled && s.isJobEnabled(JobIntegrityScrub), func(ctx context.Context) error {
			return s.runJob(ctx, JobIntegrityScrub, cfg.ScrubBatchSize, cfg.JobTimeout, func(ctx context.Context) error {
				return s.integrityScrub(ctx, cfg)
			})
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

// RunForever runs RunOnce on every tick until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("archiver run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) currentConfig() Config {
	if s.archival == nil {
		return s.cfg
	}
	return s.cfg.withArchival(s.archival.Get())
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs in this process.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
