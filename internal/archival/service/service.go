package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/billarchive/internal/archival/domain"
	"github.com/smallbiznis/billarchive/internal/archival/policy"
	"github.com/smallbiznis/billarchive/internal/clock"
	coldstoredomain "github.com/smallbiznis/billarchive/internal/coldstore/domain"
	"github.com/smallbiznis/billarchive/internal/config"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	obsmetrics "github.com/smallbiznis/billarchive/internal/observability/metrics"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Hot     hotstoredomain.Store
	Cold    coldstoredomain.Store
	Policy  policy.Provider
	Clock   clock.Clock
	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Service moves records between the tiers and reads them back.
type Service struct {
	hot     hotstoredomain.Store
	cold    coldstoredomain.Store
	policy  policy.Provider
	clock   clock.Clock
	prefix  string
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	tracer  trace.Tracer
}

var (
	_ domain.Migrator  = (*Service)(nil)
	_ domain.Retriever = (*Service)(nil)
	_ domain.Catalog   = (*Service)(nil)
)

func New(p Params) *Service {
	prefix := p.Config.ColdStore.Prefix
	if prefix == "" {
		prefix = coldstoredomain.DefaultPrefix
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	pol := p.Policy
	if pol == nil {
		pol = policy.Static(policy.Default())
	}
	return &Service{
		hot:     p.Hot,
		cold:    p.Cold,
		policy:  pol,
		clock:   clk,
		prefix:  prefix,
		log:     p.Log.Named("archival.service"),
		metrics: p.Metrics,
		tracer:  otel.Tracer("billarchive/archival"),
	}
}

// findMetadata looks up the archival entry of a record across partitions.
func (s *Service) findMetadata(ctx context.Context, recordID string) (recorddomain.ArchivalMetadata, error) {
	docs, err := s.hot.Query(ctx, hotstoredomain.Filter{
		Type:     recorddomain.TypeMetadata,
		RecordID: recordID,
		Limit:    1,
	})
	if err != nil {
		return recorddomain.ArchivalMetadata{}, err
	}
	if len(docs) == 0 {
		return recorddomain.ArchivalMetadata{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, recordID)
	}
	md, err := docs[0].Metadata()
	if err != nil {
		return recorddomain.ArchivalMetadata{}, storedDocErr(docs[0], err)
	}
	return md, nil
}

func (s *Service) PutRecord(ctx context.Context, record recorddomain.Record) error {
	if err := recorddomain.ValidateID(record.ID); err != nil {
		return err
	}
	doc, err := hotstoredomain.RecordDocument(record)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}
	if err := s.claimID(ctx, record); err != nil {
		return err
	}
	if err := s.hot.Upsert(ctx, doc); err != nil {
		return conflictErr(record.ID, err)
	}
	return nil
}

// claimID keeps a record id owned by one customer across both tiers. An id
// that was archived cannot be written back to the hot store.
func (s *Service) claimID(ctx context.Context, record recorddomain.Record) error {
	md, err := s.findMetadata(ctx, record.ID)
	switch {
	case err == nil:
		if md.CustomerID != record.CustomerID {
			return fmt.Errorf("%w: %s is archived for another customer", domain.ErrIDConflict, record.ID)
		}
		return fmt.Errorf("%w: %s", domain.ErrAlreadyMigrated, record.ID)
	case !errors.Is(err, domain.ErrRecordNotFound):
		return err
	}

	docs, err := s.hot.Query(ctx, hotstoredomain.Filter{
		Type: recorddomain.TypeRecord,
		ID:   record.ID,
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.PartitionKey != record.CustomerID {
			return fmt.Errorf("%w: %s is held by another customer", domain.ErrIDConflict, record.ID)
		}
	}
	return nil
}

func conflictErr(recordID string, err error) error {
	if errors.Is(err, hotstoredomain.ErrConflict) {
		return fmt.Errorf("%w: %s: %v", domain.ErrIDConflict, recordID, err)
	}
	return err
}

// storedDocErr hides the parse error kind so a broken stored document is
// never reported as invalid caller input.
func storedDocErr(doc hotstoredomain.Document, err error) error {
	return fmt.Errorf("%w: %s/%s: %v", domain.ErrStoredDocument, doc.PartitionKey, doc.ID, err)
}

func isHotNotFound(err error) bool {
	return errors.Is(err, hotstoredomain.ErrNotFound)
}
