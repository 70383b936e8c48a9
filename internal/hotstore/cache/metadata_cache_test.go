package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billarchive/internal/hotstore/domain"
	"github.com/smallbiznis/billarchive/internal/hotstore/memory"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	gets   int
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// countingStore records how often metadata queries reach the backing store.
type countingStore struct {
	domain.Store
	queries int
}

func (s *countingStore) Query(ctx context.Context, filter domain.Filter) ([]domain.Document, error) {
	s.queries++
	return s.Store.Query(ctx, filter)
}

func metadataDoc(t *testing.T, recordID string) domain.Document {
	t.Helper()
	doc, err := domain.MetadataDocument(recorddomain.ArchivalMetadata{
		ID:         recorddomain.MetadataID(recordID),
		RecordID:   recordID,
		BlobURI:    "memory://billing-archives/billing/" + recordID + ".json",
		Checksum:   strings.Repeat("a", 64),
		CreatedAt:  "2025-01-01T00:00:00Z",
		CustomerID: "cust-1",
		Type:       recorddomain.TypeMetadata,
	})
	require.NoError(t, err)
	return doc
}

func TestMetadataIndexWriteThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.New()}
	rdb := newFakeRedis()
	idx := NewMetadataIndex(backing, rdb, time.Hour, zap.NewNop())

	require.NoError(t, idx.Upsert(ctx, metadataDoc(t, "123")))

	docs, err := idx.Query(ctx, domain.Filter{Type: recorddomain.TypeMetadata, RecordID: "123"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "meta_123", docs[0].ID)
	assert.Equal(t, 0, backing.queries)
}

func TestMetadataIndexFillsOnMiss(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.New()}
	require.NoError(t, backing.Upsert(ctx, metadataDoc(t, "9")))

	idx := NewMetadataIndex(backing, newFakeRedis(), 0, nil)
	filter := domain.Filter{Type: recorddomain.TypeMetadata, RecordID: "9"}

	_, err := idx.Query(ctx, filter)
	require.NoError(t, err)
	_, err = idx.Query(ctx, filter)
	require.NoError(t, err)

	assert.Equal(t, 1, backing.queries)
}

func TestMetadataIndexDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.New()}
	idx := NewMetadataIndex(backing, newFakeRedis(), 0, nil)
	filter := domain.Filter{Type: recorddomain.TypeMetadata, RecordID: "404"}

	docs, err := idx.Query(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, backing.Upsert(ctx, metadataDoc(t, "404")))
	docs, err = idx.Query(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestMetadataIndexDegradesOnRedisFailure(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.New()}
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	idx := NewMetadataIndex(backing, rdb, 0, nil)

	require.NoError(t, idx.Upsert(ctx, metadataDoc(t, "1")))
	docs, err := idx.Query(ctx, domain.Filter{Type: recorddomain.TypeMetadata, RecordID: "1"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, backing.queries)
}

func TestMetadataIndexPassesThroughOtherQueries(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.New()}
	rdb := newFakeRedis()
	idx := NewMetadataIndex(backing, rdb, 0, nil)

	_, err := idx.Query(ctx, domain.Filter{Type: recorddomain.TypeRecord, ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, backing.queries)
	assert.Equal(t, 0, rdb.gets)
}
