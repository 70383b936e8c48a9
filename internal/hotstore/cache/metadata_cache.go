package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billarchive/internal/hotstore/domain"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"go.uber.org/zap"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "billarchive:metadata:"
)

// Client is the subset of the redis client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// MetadataIndex serves record_id -> metadata lookups from redis and passes
// everything else to the wrapped store. Metadata is immutable once written, so
// entries are only refreshed on upsert. Redis failures fall back to the store.
type MetadataIndex struct {
	next   domain.Store
	client Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewMetadataIndex(next domain.Store, client Client, ttl time.Duration, log *zap.Logger) *MetadataIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MetadataIndex{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    log.Named("hotstore.cache"),
	}
}

func (c *MetadataIndex) Get(ctx context.Context, id, partitionKey string) (domain.Document, error) {
	return c.next.Get(ctx, id, partitionKey)
}

func (c *MetadataIndex) Query(ctx context.Context, filter domain.Filter) ([]domain.Document, error) {
	if !isMetadataLookup(filter) {
		return c.next.Query(ctx, filter)
	}

	if doc, ok := c.load(ctx, filter.RecordID); ok {
		return []domain.Document{doc}, nil
	}

	docs, err := c.next.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 1 {
		c.store(ctx, docs[0])
	}
	return docs, nil
}

func (c *MetadataIndex) Upsert(ctx context.Context, doc domain.Document) error {
	if err := c.next.Upsert(ctx, doc); err != nil {
		return err
	}
	if doc.Type == recorddomain.TypeMetadata {
		c.store(ctx, doc)
	}
	return nil
}

func (c *MetadataIndex) Delete(ctx context.Context, id, partitionKey string) error {
	err := c.next.Delete(ctx, id, partitionKey)
	if strings.HasPrefix(id, recorddomain.MetadataIDPrefix) {
		recordID := strings.TrimPrefix(id, recorddomain.MetadataIDPrefix)
		if delErr := c.client.Del(ctx, cacheKey(recordID)).Err(); delErr != nil {
			c.log.Warn("failed to evict metadata", zap.String("record_id", recordID), zap.Error(delErr))
		}
	}
	return err
}

func (c *MetadataIndex) load(ctx context.Context, recordID string) (domain.Document, bool) {
	raw, err := c.client.Get(ctx, cacheKey(recordID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("metadata cache read failed", zap.String("record_id", recordID), zap.Error(err))
		}
		return domain.Document{}, false
	}

	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil || doc.RecordID != recordID {
		c.log.Warn("discarding malformed metadata cache entry", zap.String("record_id", recordID))
		return domain.Document{}, false
	}
	return doc, true
}

func (c *MetadataIndex) store(ctx context.Context, doc domain.Document) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(doc.RecordID), payload, c.ttl).Err(); err != nil {
		c.log.Warn("metadata cache write failed", zap.String("record_id", doc.RecordID), zap.Error(err))
	}
}

func isMetadataLookup(f domain.Filter) bool {
	return f.Type == recorddomain.TypeMetadata &&
		f.RecordID != "" &&
		f.ID == "" &&
		f.PartitionKey == "" &&
		f.CreatedBefore == nil &&
		f.RecordIDAfter == ""
}

func cacheKey(recordID string) string {
	return keyPrefix + recordID
}
