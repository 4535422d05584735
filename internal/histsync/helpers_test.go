package histsync

import (
	"testing"
	"time"

	"histsync/internal/database"
	"histsync/internal/testutil"
)

const (
	t0 = "2024-01-15T10:00:00.000000"
	t1 = "2024-01-15T10:05:00.000000"
	t2 = "2024-01-15T10:10:00.000000"
)

type testEnv struct {
	store  *database.Store
	remote *testutil.FakeRemote
	log    *testutil.RecordingLogger
	clock  *testutil.StubClock
	cache  *EntityCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := testutil.FixedClock()
	log := testutil.NewRecordingLogger()
	store := testutil.NewTestStore(t, clock)
	return &testEnv{
		store:  store,
		remote: testutil.NewFakeRemote(),
		log:    log,
		clock:  clock,
		cache:  NewEntityCache(store, log, clock),
	}
}

func (e *testEnv) service(t *testing.T) *Service {
	t.Helper()
	svc := NewService(e.store, e.remote, Options{
		Logger:       e.log,
		Clock:        e.clock,
		IDs:          testutil.NewStubIDGenerator(),
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(svc.Close)
	return svc
}

func historyPayload(id, userID, updated string) map[string]any {
	return map[string]any{
		"id":          id,
		"user_id":     userID,
		"name":        "History " + id,
		"update_time": updated,
		"deleted":     false,
		"purged":      false,
	}
}

func contentPayload(historyID, id string, hid int, name string) map[string]any {
	return map[string]any{
		"id":                   id,
		"history_id":           historyID,
		"hid":                  hid,
		"history_content_type": "dataset",
		"name":                 name,
		"update_time":          t0,
		"deleted":              false,
		"purged":               false,
		"visible":              true,
		"url":                  "/api/datasets/" + id,
	}
}

// recorder collects live query emissions.
type recorder[T any] struct {
	ch chan []T
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan []T, 128)}
}

func (r *recorder[T]) fn(v []T) { r.ch <- v }

// next returns the next emission.
func (r *recorder[T]) next(t *testing.T) []T {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		return nil
	}
}

// until returns the first emission satisfying ok.
func (r *recorder[T]) until(t *testing.T, ok func([]T) bool) []T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-r.ch:
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching emission")
			return nil
		}
	}
}

// quiet fails if an emission arrives within d.
func (r *recorder[T]) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case v := <-r.ch:
		t.Fatalf("unexpected emission %v", v)
	case <-time.After(d):
	}
}

// eventually polls cond until it holds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
