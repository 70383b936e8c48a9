package policy

import (
	"testing"
	"time"

	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/stretchr/testify/assert"
)

func recordCreatedAt(ts time.Time) recorddomain.Record {
	return recorddomain.Record{ID: "1", CustomerID: "c", CreatedAt: ts}
}

func TestShouldArchiveBoundary(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := recordCreatedAt(created)
	p := Default()

	boundary := created.Add(DefaultRetention)
	assert.False(t, p.ShouldArchive(rec, boundary.Add(-time.Second)))
	assert.False(t, p.ShouldArchive(rec, boundary))
	assert.True(t, p.ShouldArchive(rec, boundary.Add(time.Second)))
}

func TestShouldArchiveUsesRecordTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := FromDays(30)

	assert.True(t, p.ShouldArchive(recordCreatedAt(now.AddDate(0, 0, -31)), now))
	assert.False(t, p.ShouldArchive(recordCreatedAt(now.AddDate(0, 0, -29)), now))
	assert.False(t, p.ShouldArchive(recordCreatedAt(now.Add(time.Hour)), now))
}

func TestCutoff(t *testing.T) {
	now := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Default().Cutoff(now))
}

func TestNonPositiveRetentionFallsBackToDefault(t *testing.T) {
	assert.Equal(t, Default(), FromDays(0))
	assert.Equal(t, Policy{}.Cutoff(time.Unix(0, 0)), Default().Cutoff(time.Unix(0, 0)))
	assert.Equal(t, FromDays(7), Static(FromDays(7)).Policy())
}
