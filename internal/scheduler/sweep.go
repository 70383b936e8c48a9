package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	obsmetrics "github.com/smallbiznis/billarchive/internal/observability/metrics"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"go.uber.org/zap"
)

const lockKeyPrefix = "billarchive:archive:lock"

// ArchiveSweepJob migrates every live record past the retention window.
func (s *Scheduler) ArchiveSweepJob(ctx context.Context) error {
	return s.archiveSweep(ctx, s.currentConfig())
}

func (s *Scheduler) archiveSweep(ctx context.Context, cfg Config) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobArchiveSweep, cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	// One policy and one clock reading per sweep.
	pol := s.policy.Policy()
	now := s.clock.Now()
	cutoff := pol.Cutoff(now)

	var jobErr error
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		// record_id is unique per document type, so it is a complete cursor.
		docs, err := s.hot.Query(ctx, hotstoredomain.Filter{
			Type:          recorddomain.TypeRecord,
			CreatedBefore: &cutoff,
			RecordIDAfter: cursor,
			Limit:         cfg.BatchSize,
		})
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.sweep.query.failed", err)
			return errors.Join(jobErr, fmt.Errorf("query candidates: %w", err))
		}
		if len(docs) == 0 {
			break
		}

		archived := 0
		for _, doc := range docs {
			record, err := doc.Record()
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.sweep.record.invalid", err,
					zap.String("record_id", doc.ID),
				)
				continue
			}
			if !pol.ShouldArchive(record, now) {
				run.AddSkipped(1)
				continue
			}

			outcome, err := s.archiveOne(ctx, cfg, record)
			switch outcome {
			case outcomeArchived:
				archived++
				run.AddProcessed(1)
			case outcomeSkipped:
				run.AddSkipped(1)
			case outcomeFailed:
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.sweep.record.failed", err,
					zap.String("record_id", record.ID),
					zap.String("customer_id", record.CustomerID),
				)
			}
		}
		s.metrics.AddBatchProcessed(JobArchiveSweep, obsmetrics.ResourceRecords, archived)

		last := docs[len(docs)-1].RecordID
		if len(docs) < cfg.BatchSize || last <= cursor {
			break
		}
		cursor = last
	}

	return jobErr
}

type sweepOutcome int

const (
	outcomeArchived sweepOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// archiveOne migrates a single record under its lock, retrying transient
// failures with exponential backoff.
func (s *Scheduler) archiveOne(ctx context.Context, cfg Config, record recorddomain.Record) (sweepOutcome, error) {
	release, ok := s.acquire(ctx, cfg, record)
	if !ok {
		s.metrics.IncBatchDeferred(JobArchiveSweep, obsmetrics.BatchDeferredReasonLockHeld)
		return outcomeSkipped, nil
	}
	defer release()

	attempt := 0
	op := func() error {
		attempt++
		_, err := s.migrator.Migrate(ctx, record)
		if err == nil {
			return nil
		}
		if !obsmetrics.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.IncBatchDeferred(JobArchiveSweep, obsmetrics.BatchDeferredReasonRetry)
		s.logger(ctx).Warn("scheduler.sweep.record.retry",
			zap.String("record_id", record.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("error_type", obsmetrics.ClassifyArchivalError(err)),
		)
	}

	err := backoff.RetryNotify(op, s.newBackOff(ctx, cfg), notify)
	switch {
	case err == nil:
		return outcomeArchived, nil
	case errors.Is(err, archivaldomain.ErrAlreadyMigrated), errors.Is(err, archivaldomain.ErrRecordNotFound):
		// Another worker or an earlier run got there first.
		return outcomeSkipped, nil
	default:
		return outcomeFailed, err
	}
}

func (s *Scheduler) newBackOff(ctx context.Context, cfg Config) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInitialInterval
	b.MaxInterval = cfg.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	retries := uint64(0)
	if cfg.MaxAttempts > 1 {
		retries = uint64(cfg.MaxAttempts - 1)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// acquire takes the per-record lock. Without a locker, or when the lock
// backend is unreachable, the sweep proceeds unlocked; Migrate tolerates a
// concurrent run for the same record.
func (s *Scheduler) acquire(ctx context.Context, cfg Config, record recorddomain.Record) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := lockKey(record)
	token, ok, err := s.locker.TryLock(ctx, key, cfg.LockTTL)
	if err != nil {
		s.logger(ctx).Warn("scheduler.sweep.lock.unavailable",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("scheduler.sweep.lock.release_failed",
				zap.String("record_id", record.ID),
				zap.Error(err),
			)
		}
	}, true
}

func lockKey(record recorddomain.Record) string {
	return fmt.Sprintf("%s:%s:%s", lockKeyPrefix, record.CustomerID, record.ID)
}
