package s3

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorRoundTrip(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:9000", Bucket: "billing-archives"})
	require.NoError(t, err)

	loc := s.locator("billing/123.json")
	assert.Equal(t, "s3://billing-archives/billing/123.json", loc)

	name, ok := s.NameFromLocator(loc)
	require.True(t, ok)
	assert.Equal(t, "billing/123.json", name)

	_, ok = s.NameFromLocator("s3://other/billing/123.json")
	assert.False(t, ok)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("dial tcp: connection refused")))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
