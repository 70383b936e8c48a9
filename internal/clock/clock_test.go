package clock

import (
	"testing"
	"time"
)

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(91 * 24 * time.Hour)

	want := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	if !c.Now().Equal(want) {
		t.Fatalf("expected %s, got %s", want, c.Now())
	}
}

func TestSystemClockIsUTC(t *testing.T) {
	if loc := System().Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %s", loc)
	}
}
