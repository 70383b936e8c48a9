package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/billarchive/internal/archival/domain"
	"github.com/smallbiznis/billarchive/internal/checksum"
	coldstoredomain "github.com/smallbiznis/billarchive/internal/coldstore/domain"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	"github.com/smallbiznis/billarchive/internal/observability/logger"
	"github.com/smallbiznis/billarchive/internal/observability/tracing"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Migrate archives the stored copy of record and removes it from the hot
// store. The order is cold write, metadata, hot delete, so a failure at any
// step leaves the record readable. The caller decides whether the record is
// eligible; Migrate does not consult the policy.
func (s *Service) Migrate(ctx context.Context, record recorddomain.Record) (recorddomain.ArchivalMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "archival.migrate")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(attribute.String("record_id", record.ID))...)

	md, err := s.migrate(ctx, record)
	if err != nil {
		if stage, ok := domain.StageOf(err); ok {
			span.SetAttributes(attribute.String("stage", string(stage)))
			s.metrics.RecordMigrationFailure(ctx, string(stage))
		}
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "migrate failed")
		return recorddomain.ArchivalMetadata{}, err
	}
	return md, nil
}

func (s *Service) migrate(ctx context.Context, record recorddomain.Record) (recorddomain.ArchivalMetadata, error) {
	if record.ID == "" || record.CustomerID == "" {
		return recorddomain.ArchivalMetadata{}, fmt.Errorf("%w: id and customer_id are required", domain.ErrInvalidRecord)
	}
	if err := recorddomain.ValidateID(record.ID); err != nil {
		return recorddomain.ArchivalMetadata{}, err
	}
	log := logger.WithRecord(logger.WithContext(ctx, s.log), record.ID, record.CustomerID)

	live, err := s.loadLive(ctx, record)
	if err != nil {
		return recorddomain.ArchivalMetadata{}, err
	}

	canonical, sum, err := checksum.Sum(live)
	if err != nil {
		return recorddomain.ArchivalMetadata{}, stageErr(domain.StageEncode, live.ID, err)
	}

	name := coldstoredomain.ObjectName(s.prefix, live.ID)
	locator, err := s.cold.Put(ctx, name, canonical, true)
	if err != nil {
		log.Warn("cold write failed, hot copy untouched", zap.Error(err))
		return recorddomain.ArchivalMetadata{}, stageErr(domain.StageColdWrite, live.ID, err)
	}

	md := recorddomain.NewMetadata(live, locator, sum)
	mdDoc, err := hotstoredomain.MetadataDocument(md)
	if err != nil {
		return recorddomain.ArchivalMetadata{}, stageErr(domain.StageMetadata, live.ID, err)
	}
	if err := s.hot.Upsert(ctx, mdDoc); err != nil {
		log.Warn("metadata write failed, blob left orphaned until retry",
			zap.String("blob_uri", locator),
			zap.Error(err),
		)
		return recorddomain.ArchivalMetadata{}, stageErr(domain.StageMetadata, live.ID, conflictErr(live.ID, err))
	}

	if err := s.hot.Delete(ctx, live.ID, live.CustomerID); err != nil && !isHotNotFound(err) {
		log.Warn("hot delete failed, record stays in both tiers until retry", zap.Error(err))
		return recorddomain.ArchivalMetadata{}, stageErr(domain.StageDeleteHot, live.ID, err)
	}

	s.metrics.RecordArchived(ctx, len(canonical))
	log.Info("record archived",
		zap.String("blob_uri", locator),
		zap.Int("bytes", len(canonical)),
	)
	return md, nil
}

// loadLive re-reads the record from the hot store. A record that is gone
// but has metadata was archived by an earlier run.
func (s *Service) loadLive(ctx context.Context, record recorddomain.Record) (recorddomain.Record, error) {
	doc, err := s.hot.Get(ctx, record.ID, record.CustomerID)
	if isHotNotFound(err) {
		_, mdErr := s.findMetadata(ctx, record.ID)
		switch {
		case mdErr == nil:
			return recorddomain.Record{}, fmt.Errorf("%w: %s", domain.ErrAlreadyMigrated, record.ID)
		case errors.Is(mdErr, domain.ErrRecordNotFound):
			return recorddomain.Record{}, mdErr
		default:
			return recorddomain.Record{}, stageErr(domain.StageLoad, record.ID, mdErr)
		}
	}
	if err != nil {
		return recorddomain.Record{}, stageErr(domain.StageLoad, record.ID, err)
	}

	live, err := storedRecord(doc)
	if err != nil {
		return recorddomain.Record{}, stageErr(domain.StageLoad, record.ID, err)
	}

	// Metadata from an interrupted run of this record is fine; metadata for
	// another customer means the blob name is taken.
	md, err := s.findMetadata(ctx, live.ID)
	switch {
	case err == nil && md.CustomerID != live.CustomerID:
		return recorddomain.Record{}, fmt.Errorf("%w: %s is archived for customer %s", domain.ErrIDConflict, live.ID, md.CustomerID)
	case err != nil && !errors.Is(err, domain.ErrRecordNotFound):
		return recorddomain.Record{}, stageErr(domain.StageLoad, live.ID, err)
	}
	return live, nil
}

// ProcessChanges handles one batch of the hot store change feed. Records
// inside the retention window are skipped. Per-record failures do not stop
// the batch and are returned joined.
func (s *Service) ProcessChanges(ctx context.Context, records []recorddomain.Record, now time.Time) (domain.Summary, error) {
	pol := s.policy.Policy()
	log := logger.WithContext(ctx, s.log)

	var (
		summary domain.Summary
		errs    []error
	)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !pol.ShouldArchive(record, now) {
			summary.Skipped++
			continue
		}

		_, err := s.Migrate(ctx, record)
		switch {
		case err == nil:
			summary.Archived++
		case errors.Is(err, domain.ErrAlreadyMigrated):
			summary.AlreadyMigrated++
		default:
			summary.Failed++
			errs = append(errs, err)
			log.Error("migrate from change feed failed",
				zap.String("record_id", record.ID),
				zap.Error(err),
			)
		}
	}

	log.Info("change batch processed",
		zap.Int("received", len(records)),
		zap.Int("archived", summary.Archived),
		zap.Int("skipped", summary.Skipped),
		zap.Int("already_migrated", summary.AlreadyMigrated),
		zap.Int("failed", summary.Failed),
	)
	return summary, errors.Join(errs...)
}

func stageErr(stage domain.Stage, recordID string, err error) error {
	return &domain.MigrationError{Stage: stage, RecordID: recordID, Err: err}
}
