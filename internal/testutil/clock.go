package testutil

import (
	"fmt"
	"sync"
	"time"

	"histsync/internal/model"
)

// SyncEpoch is the start time of every FixedClock. It is later than every
// update_time the histsync fixtures use.
var SyncEpoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a manually driven clock for poll and cache tests. Safe for
// concurrent use by the code under test.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to SyncEpoch.
func FixedClock() *StubClock {
	return NewStubClock(SyncEpoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Stamp is Now in the server timestamp format, as written to poll markers
// and synthesized update_time fields.
func (c *StubClock) Stamp() string {
	return model.FormatTime(c.Now())
}

// Advance moves the clock forward by d and returns the new stamp.
func (c *StubClock) Advance(d time.Duration) string {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return c.Stamp()
}

// StubIDGenerator hands out session ids "session-1", "session-2", ...
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("session-%d", g.next)
}
