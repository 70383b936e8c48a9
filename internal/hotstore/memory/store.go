package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/smallbiznis/billarchive/internal/hotstore/domain"
)

type key struct {
	id           string
	partitionKey string
}

// Store keeps documents in process memory. Used by development runs and tests.
type Store struct {
	mu   sync.RWMutex
	docs map[key]domain.Document
}

func New() *Store {
	return &Store{docs: make(map[key]domain.Document)}
}

func (s *Store) Get(ctx context.Context, id, partitionKey string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[key{id, partitionKey}]
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	return clone(doc), nil
}

func (s *Store) Query(ctx context.Context, filter domain.Filter) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Document, 0)
	for _, doc := range s.docs {
		if filter.Matches(doc) {
			out = append(out, clone(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordID != out[j].RecordID {
			return out[i].RecordID < out[j].RecordID
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].PartitionKey < out[j].PartitionKey
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{doc.ID, doc.PartitionKey}
	for existingKey, existing := range s.docs {
		if existingKey != k && existing.Type == doc.Type && existing.RecordID == doc.RecordID {
			return fmt.Errorf("%w: %s %s held by partition %s", domain.ErrConflict, doc.Type, doc.RecordID, existing.PartitionKey)
		}
	}
	s.docs[k] = clone(doc)
	return nil
}

func (s *Store) Delete(ctx context.Context, id, partitionKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{id, partitionKey}
	if _, ok := s.docs[k]; !ok {
		return domain.ErrNotFound
	}
	delete(s.docs, k)
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func clone(doc domain.Document) domain.Document {
	doc.Body = append([]byte(nil), doc.Body...)
	return doc
}
