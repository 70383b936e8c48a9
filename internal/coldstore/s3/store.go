package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
)

const (
	envRoleARN              = "AWS_ROLE_ARN"
	envWebIdentityTokenFile = "AWS_WEB_IDENTITY_TOKEN_FILE"
	envRegion               = "AWS_REGION"
	envDefaultRegion        = "AWS_DEFAULT_REGION"

	scheme      = "s3://"
	contentType = "application/json"
)

type Config struct {
	Endpoint string
	Bucket   string
	UseSSL   bool
}

// Store keeps blobs in an S3 compatible bucket.
type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 cold store requires a bucket")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}

	region := os.Getenv(envRegion)
	if region == "" {
		region = os.Getenv(envDefaultRegion)
	}
	creds := credentials.NewEnvAWS()
	if os.Getenv(envWebIdentityTokenFile) != "" && os.Getenv(envRoleARN) != "" {
		creds = credentials.NewIAM("")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Region: region,
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket fails when the configured bucket is missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("find bucket: %w", err)
	}
	if !ok {
		return fmt.Errorf("find bucket: bucket '%s' does not exist", s.bucket)
	}
	return nil
}

// Put is check-then-write when overwrite is false; two writers racing on the
// same name may both succeed.
func (s *Store) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	if !overwrite {
		_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
		if err == nil {
			return "", domain.ErrExists
		}
		if !isNotFound(err) {
			return "", fmt.Errorf("stat %s: %w", name, err)
		}
	}

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, name, reader, reader.Size(),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return s.locator(name), nil
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
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

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
