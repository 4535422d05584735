package testutil

import (
	"context"
	"testing"

	"histsync/internal/database"
)

// NewTestStore creates an in-memory store with migrations applied. Writes
// are stamped with clock. The store is closed when the test completes.
func NewTestStore(t *testing.T, clock *StubClock) *database.Store {
	t.Helper()

	if clock == nil {
		clock = FixedClock()
	}
	s, err := database.Open(context.Background(), database.MemoryPath, database.Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
