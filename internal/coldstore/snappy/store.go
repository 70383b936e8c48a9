package snappy

import (
	"context"
	"fmt"

	"github.com/golang/snappy"
	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
)

// Store compresses blobs with snappy before handing them to the wrapped
// backend. Callers always see the uncompressed bytes.
type Store struct {
	next domain.Store
}

func Wrap(next domain.Store) *Store {
	return &Store{next: next}
}

func (s *Store) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	return s.next.Put(ctx, name, snappy.Encode(nil, data), overwrite)
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	compressed, err := s.next.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptBlob, name, err)
	}
	return data, nil
}

func (s *Store) NameFromLocator(locator string) (string, bool) {
	return s.next.NameFromLocator(locator)
}
