package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const (
	sourceRead  = "read"
	sourceScrub = "scrub"
)

func (s *Service) Retrieve(ctx context.Context, id string) (recorddomain.Record, error) {
	record, _, err := s.Locate(ctx, id, "")
	return record, err
}

func (s *Service) RetrieveInPartition(ctx context.Context, id, customerID string) (recorddomain.Record, error) {
	record, _, err := s.Locate(ctx, id, customerID)
	return record, err
}

// Locate serves the hot copy when one exists and otherwise the verified
// archived copy. Only a genuine hot miss falls through to the archive.
func (s *Service) Locate(ctx context.Context, id, customerID string) (recorddomain.Record, domain.Tier, error) {
	id = strings.TrimSpace(id)
	customerID = strings.TrimSpace(customerID)
	if id == "" {
		return recorddomain.Record{}, "", domain.ErrInvalidID
	}
	if err := recorddomain.ValidateID(id); err != nil {
		return recorddomain.Record{}, "", fmt.Errorf("%w: %v", domain.ErrInvalidID, err)
	}

	ctx, span := s.tracer.Start(ctx, "archival.retrieve")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(attribute.String("record_id", id))...)

	record, tier, err := s.locate(ctx, id, customerID)
	if err != nil {
		if !errors.Is(err, domain.ErrRecordNotFound) {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "retrieve failed")
		}
		return recorddomain.Record{}, "", err
	}
	span.SetAttributes(attribute.String("tier", string(tier)))
	s.metrics.RecordRetrieved(ctx, string(tier))
	return record, tier, nil
}

func (s *Service) locate(ctx context.Context, id, customerID string) (recorddomain.Record, domain.Tier, error) {
	record, err := s.lookupHot(ctx, id, customerID)
	if err == nil {
		return record, domain.TierHot, nil
	}
	if !isHotNotFound(err) {
		return recorddomain.Record{}, "", fmt.Errorf("hot lookup %s: %w", id, err)
	}

	md, err := s.findMetadata(ctx, id)
	if err != nil {
		return recorddomain.Record{}, "", err
	}
	if customerID != "" && md.CustomerID != customerID {
		return recorddomain.Record{}, "", fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	}

	data, err := s.readVerified(ctx, md, sourceRead)
	if err != nil {
		return recorddomain.Record{}, "", err
	}
	record, err = recorddomain.ParseRecord(data)
	if err != nil {
		return recorddomain.Record{}, "", fmt.Errorf("%w: record %s: %v", domain.ErrCorrupted, id, err)
	}
	return record, domain.TierCold, nil
}

// lookupHot is a point read when the partition is known and a cross-partition
// query by id otherwise.
func (s *Service) lookupHot(ctx context.Context, id, customerID string) (recorddomain.Record, error) {
	if customerID != "" {
		doc, err := s.hot.Get(ctx, id, customerID)
		if err != nil {
			return recorddomain.Record{}, err
		}
		return storedRecord(doc)
	}

	docs, err := s.hot.Query(ctx, hotstoredomain.Filter{
		Type:  recorddomain.TypeRecord,
		ID:    id,
		Limit: 1,
	})
	if err != nil {
		return recorddomain.Record{}, err
	}
	if len(docs) == 0 {
		return recorddomain.Record{}, hotstoredomain.ErrNotFound
	}
	return storedRecord(docs[0])
}

func storedRecord(doc hotstoredomain.Document) (recorddomain.Record, error) {
	record, err := doc.Record()
	if err != nil {
		return recorddomain.Record{}, storedDocErr(doc, err)
	}
	return record, nil
}

// VerifyArchive re-reads an archived blob and checks it against its metadata.
func (s *Service) VerifyArchive(ctx context.Context, recordID string) error {
	if strings.TrimSpace(recordID) == "" {
		return domain.ErrInvalidID
	}
	ctx, span := s.tracer.Start(ctx, "archival.verify")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(attribute.String("record_id", recordID))...)

	md, err := s.findMetadata(ctx, recordID)
	if err != nil {
		return err
	}
	if _, err := s.readVerified(ctx, md, sourceScrub); err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "verify failed")
		return err
	}
	return nil
}

// readVerified returns the blob bytes only when they hash to the recorded
// checksum.
func (s *Service) readVerified(ctx context.Context, md recorddomain.ArchivalMetadata, source string) ([]byte, error) {
	log := logger.WithRecord(logger.WithContext(ctx, s.log), md.RecordID, md.CustomerID)

	name, ok := s.cold.NameFromLocator(md.BlobURI)
	if !ok {
		name = coldstoredomain.ObjectName(s.prefix, md.RecordID)
		log.Warn("blob uri not recognized by cold store, using derived name",
			zap.String("blob_uri", md.BlobURI),
			zap.String("blob_name", name),
		)
	}

	data, err := s.cold.Get(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, coldstoredomain.ErrNotFound):
		log.Error("archive inconsistent: metadata points at a missing blob",
			zap.String("blob_uri", md.BlobURI),
			zap.String("source", source),
		)
		s.metrics.RecordInconsistent(ctx, source)
		return nil, fmt.Errorf("%w: record %s blob %s", domain.ErrArchiveInconsistent, md.RecordID, md.BlobURI)
	case errors.Is(err, coldstoredomain.ErrCorruptBlob):
		s.metrics.RecordCorruption(ctx, source)
		log.Error("archived blob cannot be decoded", zap.String("source", source), zap.Error(err))
		return nil, fmt.Errorf("%w: record %s: %w", domain.ErrCorrupted, md.RecordID, err)
	default:
		return nil, fmt.Errorf("cold read %s: %w", md.RecordID, err)
	}

	if err := checksum.Verify(data, md.Checksum); err != nil {
		s.metrics.RecordCorruption(ctx, source)
		log.Error("archived blob failed checksum verification",
			zap.String("blob_uri", md.BlobURI),
			zap.String("source", source),
		)
		return nil, fmt.Errorf("%w: record %s: %w", domain.ErrCorrupted, md.RecordID, err)
	}
	return data, nil
}
