package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
)

const scheme = "memory://"

// Store keeps blobs in process memory.
type Store struct {
	mu        sync.RWMutex
	container string
	blobs     map[string][]byte
}

func New(container string) *Store {
	if container == "" {
		container = "billing-archives"
	}
	return &Store{container: container, blobs: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[name]; ok && !overwrite {
		return "", domain.ErrExists
	}
	s.blobs[name] = append([]byte(nil), data...)
	return s.locator(name), nil
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) NameFromLocator(locator string) (string, bool) {
	prefix := scheme + s.container + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(locator, prefix)
	return name, name != ""
}

// Delete removes a blob. Not part of the archival contract; tests use it to
// simulate a lost archive.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, name)
}

// Tamper replaces the stored bytes without going through Put.
func (s *Store) Tamper(name string, mutate func([]byte) []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[name]
	if !ok {
		return false
	}
	s.blobs[name] = mutate(append([]byte(nil), data...))
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func (s *Store) locator(name string) string {
	return scheme + s.container + "/" + name
}
