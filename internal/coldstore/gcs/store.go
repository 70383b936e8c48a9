package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const scheme = "gs://"

type Config struct {
	Bucket string
	// Endpoint points at an emulator. Requests are sent unauthenticated.
	Endpoint string
}

// Store keeps blobs in a Google Cloud Storage bucket.
type Store struct {
	client *storage.Client
	bucket string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs cold store requires a bucket")
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(name)
	if !overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if !overwrite && errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return "", domain.ErrExists
		}
		return "", fmt.Errorf("close writer %s: %w", name, err)
	}
	return s.locator(name), nil
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("new reader %s: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

func (s *Store) NameFromLocator(locator string) (string, bool) {
	prefix := scheme + s.bucket + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(locator, prefix)
	return name, name != ""
}

func (s *Store) locator(name string) string {
	return scheme + s.bucket + "/" + name
}
