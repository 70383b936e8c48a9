package repository

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billarchive/internal/hotstore/domain"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) domain.Store {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustRecordDoc(t *testing.T, id, customer, created string) domain.Document {
	t.Helper()
	rec, err := recorddomain.NewRecord(map[string]any{
		"id":          id,
		"customer_id": customer,
		"created_at":  created,
		"amount":      json.Number("100"),
	})
	require.NoError(t, err)
	doc, err := domain.RecordDocument(rec)
	require.NoError(t, err)
	return doc
}

func TestRepositoryGetAndDelete(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.Upsert(ctx, mustRecordDoc(t, "123", "cust-1", "2025-01-01T00:00:00Z")))

	got, err := store.Get(ctx, "123", "cust-1")
	require.NoError(t, err)
	rec, err := got.Record()
	require.NoError(t, err)
	assert.Equal(t, "cust-1", rec.CustomerID)
	assert.Equal(t, json.Number("100"), rec.Fields["amount"])

	_, err = store.Get(ctx, "123", "cust-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "123", "cust-1"))
	assert.ErrorIs(t, store.Delete(ctx, "123", "cust-1"), domain.ErrNotFound)
}

func TestRepositoryUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	doc := mustRecordDoc(t, "123", "cust-1", "2025-01-01T00:00:00Z")
	require.NoError(t, store.Upsert(ctx, doc))

	doc.Body = json.RawMessage(`{"amount":200,"created_at":"2025-01-01T00:00:00Z","customer_id":"cust-1","id":"123"}`)
	require.NoError(t, store.Upsert(ctx, doc))

	docs, err := store.Query(ctx, domain.Filter{ID: "123"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, string(doc.Body), string(docs[0].Body))
}

func TestRepositoryQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.Upsert(ctx, mustRecordDoc(t, "a", "c1", "2025-01-01T00:00:00Z")))
	require.NoError(t, store.Upsert(ctx, mustRecordDoc(t, "b", "c2", "2025-02-01T00:00:00Z")))
	require.NoError(t, store.Upsert(ctx, mustRecordDoc(t, "c", "c1", "2025-03-01T00:00:00Z")))

	md := recorddomain.ArchivalMetadata{
		ID:         "meta_z",
		RecordID:   "z",
		BlobURI:    "memory://billing-archives/billing/z.json",
		Checksum:   strings.Repeat("f", 64),
		CreatedAt:  "2024-01-01T00:00:00Z",
		CustomerID: "c3",
		Type:       recorddomain.TypeMetadata,
	}
	mdDoc, err := domain.MetadataDocument(md)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, mdDoc))

	cutoff := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	old, err := store.Query(ctx, domain.Filter{Type: recorddomain.TypeRecord, CreatedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "a", old[0].ID)
	assert.Equal(t, "b", old[1].ID)

	page, err := store.Query(ctx, domain.Filter{Type: recorddomain.TypeRecord, RecordIDAfter: "a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	metas, err := store.Query(ctx, domain.Filter{Type: recorddomain.TypeMetadata, RecordID: "z"})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	parsed, err := metas[0].Metadata()
	require.NoError(t, err)
	assert.Equal(t, md, parsed)
}

func TestRepositoryRejectsInvalidDocument(t *testing.T) {
	store := setupStore(t)
	err := store.Upsert(context.Background(), domain.Document{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
}

func TestRepositoryRejectsRecordIDInAnotherPartition(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.Upsert(ctx, mustRecordDoc(t, "123", "cust-1", "2025-01-01T00:00:00Z")))
	require.NoError(t, store.Upsert(ctx, mustRecordDoc(t, "123", "cust-1", "2025-01-02T00:00:00Z")))

	err := store.Upsert(ctx, mustRecordDoc(t, "123", "cust-2", "2025-01-01T00:00:00Z"))
	require.Error(t, err)

	docs, err := store.Query(ctx, domain.Filter{Type: recorddomain.TypeRecord, ID: "123"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "cust-1", docs[0].PartitionKey)
}
