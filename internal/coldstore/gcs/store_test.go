package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorRoundTrip(t *testing.T) {
	s, err := New(context.Background(), Config{Bucket: "billing-archives", Endpoint: "http://localhost:4443/storage/v1/"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	loc := s.locator("billing/123.json")
	assert.Equal(t, "gs://billing-archives/billing/123.json", loc)

	name, ok := s.NameFromLocator(loc)
	require.True(t, ok)
	assert.Equal(t, "billing/123.json", name)

	_, ok = s.NameFromLocator("s3://billing-archives/billing/123.json")
	assert.False(t, ok)
}
