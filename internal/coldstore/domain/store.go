package domain

import (
	"context"
	"errors"
	"strings"
)

const DefaultPrefix = "billing/"

var (
	ErrNotFound    = errors.New("blob_not_found")
	ErrExists      = errors.New("blob_exists")
	ErrCorruptBlob = errors.New("blob_corrupt")
)

// Store is the capability the archival core needs from object storage.
// Locators returned by Put are opaque to callers and only meaningful to the
// backend that produced them.
type Store interface {
	Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
	NameFromLocator(locator string) (string, bool)
}

// ObjectName derives the blob name for a record id.
func ObjectName(prefix, recordID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + recordID + ".json"
}
