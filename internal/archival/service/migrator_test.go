package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/billarchive/internal/archival/domain"
	coldstoredomain "github.com/smallbiznis/billarchive/internal/coldstore/domain"
	coldmemory "github.com/smallbiznis/billarchive/internal/coldstore/memory"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	hotmemory "github.com/smallbiznis/billarchive/internal/hotstore/memory"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type faultyHot struct {
	hotstoredomain.Store
	queryErr      error
	metadataErr   error
	deleteErr     error
	deleteMissing bool
}

func (f *faultyHot) Query(ctx context.Context, filter hotstoredomain.Filter) ([]hotstoredomain.Document, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.Query(ctx, filter)
}

func (f *faultyHot) Upsert(ctx context.Context, doc hotstoredomain.Document) error {
	if f.metadataErr != nil && doc.Type == recorddomain.TypeMetadata {
		return f.metadataErr
	}
	return f.Store.Upsert(ctx, doc)
}

func (f *faultyHot) Delete(ctx context.Context, id, partitionKey string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.deleteMissing {
		// Another migrator removed the record first.
		_ = f.Store.Delete(ctx, id, partitionKey)
		return hotstoredomain.ErrNotFound
	}
	return f.Store.Delete(ctx, id, partitionKey)
}

type faultyCold struct {
	coldstoredomain.Store
	putErr error
}

func (f *faultyCold) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return f.Store.Put(ctx, name, data, overwrite)
}

func TestMigrateColdWriteFailureLeavesHotUntouched(t *testing.T) {
	hot := hotmemory.New()
	cold := coldmemory.New("c")
	boom := errors.New("connection reset")
	f := newFixtureWith(t, hot, cold, hot, &faultyCold{Store: cold, putErr: boom})
	record := f.seed(t, sampleRecord)

	_, err := f.svc.Migrate(context.Background(), record)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	stage, ok := domain.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageColdWrite, stage)

	_, err = hot.Get(context.Background(), "123", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 0, cold.Len())
}

func TestMigrateMetadataFailureIsHealedByRetry(t *testing.T) {
	hot := hotmemory.New()
	cold := coldmemory.New("c")
	faulty := &faultyHot{Store: hot, metadataErr: errors.New("throttled")}
	f := newFixtureWith(t, hot, cold, faulty, cold)
	record := f.seed(t, sampleRecord)
	ctx := context.Background()

	_, err := f.svc.Migrate(ctx, record)
	stage, ok := domain.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageMetadata, stage)

	// Orphaned blob, hot copy still authoritative.
	assert.Equal(t, 1, cold.Len())
	_, tier, err := f.svc.Locate(ctx, "123", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TierHot, tier)

	faulty.metadataErr = nil
	_, err = f.svc.Migrate(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, 1, cold.Len())
	_, tier, err = f.svc.Locate(ctx, "123", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TierCold, tier)
}

func TestMigrateDeleteFailureKeepsBothCopies(t *testing.T) {
	hot := hotmemory.New()
	cold := coldmemory.New("c")
	faulty := &faultyHot{Store: hot, deleteErr: errors.New("timeout")}
	f := newFixtureWith(t, hot, cold, faulty, cold)
	record := f.seed(t, sampleRecord)
	ctx := context.Background()

	_, err := f.svc.Migrate(ctx, record)
	stage, ok := domain.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageDeleteHot, stage)
	assert.True(t, strings.HasPrefix(err.Error(), "migrate 123: delete_hot"))

	_, tier, err := f.svc.Locate(ctx, "123", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TierHot, tier)

	faulty.deleteErr = nil
	_, err = f.svc.Migrate(ctx, record)
	require.NoError(t, err)
	_, tier, err = f.svc.Locate(ctx, "123", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TierCold, tier)
}

func TestMigrateConcurrentDeleteCountsAsSuccess(t *testing.T) {
	hot := hotmemory.New()
	cold := coldmemory.New("c")
	f := newFixtureWith(t, hot, cold, &faultyHot{Store: hot, deleteMissing: true}, cold)
	record := f.seed(t, sampleRecord)

	_, err := f.svc.Migrate(context.Background(), record)
	require.NoError(t, err)
}

func TestMigrateRejectsIncompleteRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Migrate(context.Background(), recorddomain.Record{ID: "123"})
	assert.True(t, errors.Is(err, domain.ErrInvalidRecord))
}

func TestProcessChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.seed(t, sampleRecord)
	fresh := f.seed(t, `{"id":"456","customer_id":"cust-1","created_at":"2025-03-30T00:00:00Z"}`)
	ghost, err := recorddomain.ParseRecord([]byte(`{"id":"789","customer_id":"cust-2","created_at":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)

	now := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	summary, err := f.svc.ProcessChanges(ctx, []recorddomain.Record{old, fresh, ghost}, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRecordNotFound))
	assert.Equal(t, domain.Summary{Archived: 1, Skipped: 1, Failed: 1}, summary)

	summary, err = f.svc.ProcessChanges(ctx, []recorddomain.Record{old}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlreadyMigrated)
	assert.Equal(t, 1, summary.Total())
}
