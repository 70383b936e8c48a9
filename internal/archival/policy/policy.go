package policy

import (
	"time"

	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
)

const DefaultRetention = 90 * 24 * time.Hour

// Policy decides whether a record is old enough to leave the hot store.
type Policy struct {
	Retention time.Duration
}

// Provider hands out the policy in force. Implementations may swap it at
// runtime; callers must fetch it once per decision batch.
type Provider interface {
	Policy() Policy
}

type Static Policy

func (s Static) Policy() Policy {
	return Policy(s)
}

func Default() Policy {
	return Policy{Retention: DefaultRetention}
}

func FromDays(days int) Policy {
	if days <= 0 {
		return Default()
	}
	return Policy{Retention: time.Duration(days) * 24 * time.Hour}
}

// ShouldArchive reports whether the record's age exceeds the retention window.
// A record exactly at the boundary stays hot.
func (p Policy) ShouldArchive(record recorddomain.Record, now time.Time) bool {
	return now.Sub(record.CreatedAt) > p.retention()
}

// Cutoff is the created_at bound below which records are sweep candidates.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.retention()).UTC()
}

func (p Policy) retention() time.Duration {
	if p.Retention <= 0 {
		return DefaultRetention
	}
	return p.Retention
}
