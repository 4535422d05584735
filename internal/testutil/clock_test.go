package testutil

import (
	"testing"
	"time"
)

func TestStubClock(t *testing.T) {
	c := FixedClock()
	if got := c.Stamp(); got != "2024-01-15T10:30:00.000000" {
		t.Errorf("Stamp() = %q", got)
	}
	if got := c.Advance(90 * time.Second); got != "2024-01-15T10:31:30.000000" {
		t.Errorf("Advance() = %q", got)
	}
	if !c.Now().Equal(SyncEpoch.Add(90 * time.Second)) {
		t.Errorf("Now() = %v", c.Now())
	}
}

func TestStubIDGenerator(t *testing.T) {
	g := NewStubIDGenerator()
	for _, want := range []string{"session-1", "session-2"} {
		if got := g.New(); got != want {
			t.Errorf("New() = %q, want %q", got, want)
		}
	}
}
