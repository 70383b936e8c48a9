package coldstore

import (
	"context"
	"fmt"
	"io"

	"github.com/smallbiznis/billarchive/internal/coldstore/azure"
	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
	"github.com/smallbiznis/billarchive/internal/coldstore/filesystem"
	"github.com/smallbiznis/billarchive/internal/coldstore/gcs"
	"github.com/smallbiznis/billarchive/internal/coldstore/memory"
	"github.com/smallbiznis/billarchive/internal/coldstore/s3"
	"github.com/smallbiznis/billarchive/internal/coldstore/snappy"
	"github.com/smallbiznis/billarchive/internal/config"
)

// Backend is a constructed cold store plus the hooks its lifecycle needs.
type Backend struct {
	Store domain.Store
	// Ensure creates the container or bucket when it is missing. May be nil.
	Ensure func(ctx context.Context) error
	// Closer releases client resources. May be nil.
	Closer io.Closer
}

// Open builds the configured backend and applies the compression wrapper.
func Open(ctx context.Context, cfg config.ColdStoreConfig) (Backend, error) {
	var b Backend
	switch cfg.Backend {
	case config.ColdStoreAzure:
		store, err := azure.New(cfg.AzureConnectionString, cfg.Container)
		if err != nil {
			return Backend{}, err
		}
		b = Backend{Store: store, Ensure: store.EnsureContainer}
	case config.ColdStoreS3:
		store, err := s3.New(s3.Config{
			Endpoint: cfg.S3Endpoint,
			Bucket:   cfg.Container,
			UseSSL:   cfg.S3UseSSL,
		})
		if err != nil {
			return Backend{}, err
		}
		b = Backend{Store: store, Ensure: store.EnsureBucket}
	case config.ColdStoreGCS:
		store, err := gcs.New(ctx, gcs.Config{
			Bucket:   cfg.Container,
			Endpoint: cfg.GCSEndpoint,
		})
		if err != nil {
			return Backend{}, err
		}
		b = Backend{Store: store, Closer: store}
	case config.ColdStoreFilesystem:
		store, err := filesystem.New(cfg.Path)
		if err != nil {
			return Backend{}, err
		}
		b = Backend{Store: store}
	case config.ColdStoreMemory:
		b = Backend{Store: memory.New(cfg.Container)}
	default:
		return Backend{}, fmt.Errorf("unsupported cold store backend %q", cfg.Backend)
	}

	switch cfg.Compression {
	case "", config.CompressionNone:
	case config.CompressionSnappy:
		b.Store = snappy.Wrap(b.Store)
	default:
		return Backend{}, fmt.Errorf("unsupported cold store compression %q", cfg.Compression)
	}
	return b, nil
}
