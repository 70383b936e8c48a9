package scheduler

import (
	"context"
	"errors"
	"fmt"

	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	obsmetrics "github.com/smallbiznis/billarchive/internal/observability/metrics"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"go.uber.org/zap"
)

// IntegrityScrubJob re-reads every archived blob and checks it against the
// checksum stored in its metadata. Corrupt and dangling archives are
// reported, never repaired.
func (s *Scheduler) IntegrityScrubJob(ctx context.Context) error {
	return s.integrityScrub(ctx, s.currentConfig())
}

func (s *Scheduler) integrityScrub(ctx context.Context, cfg Config) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobIntegrityScrub, cfg.ScrubBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var jobErr error
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		// record_id is unique per document type, so it is a complete cursor.
		docs, err := s.hot.Query(ctx, hotstoredomain.Filter{
			Type:          recorddomain.TypeMetadata,
			RecordIDAfter: cursor,
			Limit:         cfg.ScrubBatchSize,
		})
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.scrub.query.failed", err)
			return errors.Join(jobErr, fmt.Errorf("query metadata: %w", err))
		}
		if len(docs) == 0 {
			break
		}

		verified := 0
		for _, doc := range docs {
			err := s.retriever.VerifyArchive(ctx, doc.RecordID)
			switch {
			case err == nil:
				verified++
				run.AddProcessed(1)
			case errors.Is(err, archivaldomain.ErrRecordNotFound):
				// Metadata removed since the page was read.
				run.AddSkipped(1)
			default:
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.scrub.archive.failed", err,
					zap.String("record_id", doc.RecordID),
					zap.String("customer_id", doc.PartitionKey),
				)
			}
		}
		s.metrics.AddBatchProcessed(JobIntegrityScrub, obsmetrics.ResourceMetadata, verified)

		last := docs[len(docs)-1].RecordID
		if len(docs) < cfg.ScrubBatchSize || last <= cursor {
			break
		}
		cursor = last
	}

	return jobErr
}
