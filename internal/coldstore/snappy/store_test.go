package snappy

import (
	"bytes"
	"context"
	"testing"

	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
	"github.com/smallbiznis/billarchive/internal/coldstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnappyRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := memory.New("archives")
	s := Wrap(backing)

	payload := bytes.Repeat([]byte(`{"line":"usage","amount":1}`), 64)
	loc, err := s.Put(ctx, "billing/1.json", payload, true)
	require.NoError(t, err)

	raw, err := backing.Get(ctx, "billing/1.json")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload))

	name, ok := s.NameFromLocator(loc)
	require.True(t, ok)
	got, err := s.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSnappyReportsUndecodableBlob(t *testing.T) {
	ctx := context.Background()
	backing := memory.New("archives")
	_, err := backing.Put(ctx, "billing/1.json", []byte{0xff, 0xff, 0xff, 0xff, 0xff}, true)
	require.NoError(t, err)

	_, err = Wrap(backing).Get(ctx, "billing/1.json")
	assert.ErrorIs(t, err, domain.ErrCorruptBlob)
}

func TestSnappyPassesNotFound(t *testing.T) {
	_, err := Wrap(memory.New("")).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
