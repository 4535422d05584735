package histsync

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"histsync/internal/remote"
	"histsync/internal/testutil"
)

const (
	historyPollPrefix = "/api/histories?view=detailed"
	contentPollPrefix = "/api/histories/h1/contents?v=dev"
)

func TestPoller_Cycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.remote.Reply(http.MethodGet, "/api/histories/h1?", historyPayload("h1", "u1", t0))
	env.remote.Reply(http.MethodGet, historyPollPrefix, []map[string]any{historyPayload("h1", "u1", t1)})
	env.remote.Reply(http.MethodGet, contentPollPrefix, []map[string]any{contentPayload("h1", "d1", 1, "new")})

	p := NewPoller(env.remote, env.cache, env.log, env.clock, time.Second)
	if err := p.Cycle(ctx, "h1"); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	// The first cycle falls back to the history's update_time.
	calls := env.remote.Calls(http.MethodGet, contentPollPrefix)
	if len(calls) != 1 || !strings.Contains(calls[0].Path, "q=update_time-gt&qv="+url.QueryEscape(t0)) {
		t.Fatalf("content poll calls = %v", calls)
	}

	h, _ := env.cache.GetHistory(ctx, "h1")
	if h == nil || h.UpdateTime != t1 {
		t.Errorf("cached history = %+v, want update_time %s", h, t1)
	}
	c, _ := env.cache.GetContent(ctx, "dataset-d1")
	if c == nil || c.Name != "new" {
		t.Errorf("cached content = %+v", c)
	}

	sent := env.clock.Stamp()
	for _, pc := range []string{ContextHistoryPoll, ContextContentPoll} {
		got, ok, err := env.store.RequestTime(ctx, pc, "h1")
		if err != nil || !ok || got != sent {
			t.Errorf("RequestTime(%s) = %q, %v, %v, want %q", pc, got, ok, err, sent)
		}
	}

	// The next cycle asks only for changes since the marker.
	env.clock.Advance(time.Minute)
	if err := p.Cycle(ctx, "h1"); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	calls = env.remote.Calls(http.MethodGet, contentPollPrefix)
	if !strings.Contains(calls[1].Path, "qv="+url.QueryEscape(sent)) {
		t.Errorf("second content poll = %s, want marker %s", calls[1].Path, sent)
	}
	if n := env.remote.CallCount(http.MethodGet, "/api/histories/h1?"); n != 1 {
		t.Errorf("history loads = %d, want 1", n)
	}
}

func TestPoller_FailedContentKeepsMarker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.cache.CacheHistory(ctx, historyPayload("h1", "u1", t0)); err != nil {
		t.Fatalf("CacheHistory() error = %v", err)
	}
	env.remote.Reply(http.MethodGet, historyPollPrefix, []map[string]any{})
	env.remote.Fail(http.MethodGet, contentPollPrefix, http.StatusServiceUnavailable)

	err := NewPoller(env.remote, env.cache, env.log, env.clock, time.Second).Cycle(ctx, "h1")
	var fe *remote.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Cycle() error = %v, want FetchError", err)
	}
	if _, ok, _ := env.store.RequestTime(ctx, ContextContentPoll, "h1"); ok {
		t.Error("content marker was set after a failed poll")
	}
	if _, ok, _ := env.store.RequestTime(ctx, ContextHistoryPoll, "h1"); !ok {
		t.Error("history marker was not set")
	}
}

func TestPoller_SurvivesFailedCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := env.cache.CacheHistory(ctx, historyPayload("h1", "u1", t0)); err != nil {
		t.Fatalf("CacheHistory() error = %v", err)
	}

	var cycles atomic.Int32
	env.remote.Reply(http.MethodGet, historyPollPrefix, []map[string]any{})
	env.remote.Handle(http.MethodGet, contentPollPrefix, func(testutil.Call) (any, error) {
		if cycles.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return []map[string]any{contentPayload("h1", "d1", 1, "after failure")}, nil
	})

	stop := NewStopSignal()
	done := make(chan error, 1)
	go func() {
		done <- NewPoller(env.remote, env.cache, env.log, env.clock, 10*time.Millisecond).Run(ctx, "h1", stop)
	}()

	eventually(t, "second cycle", func() bool {
		c, _ := env.cache.GetContent(ctx, "dataset-d1")
		return c != nil
	})
	if !env.log.Contains("WARN", "poll cycle failed") {
		t.Error("failed cycle was not logged")
	}

	stop.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after stop")
	}

	// No cycle starts once stopped.
	n := cycles.Load()
	time.Sleep(50 * time.Millisecond)
	if cycles.Load() != n {
		t.Error("poll continued after stop")
	}
}

func TestPoller_StopBeforeFirstCycle(t *testing.T) {
	env := newTestEnv(t)
	stop := NewStopSignal()
	stop.Stop()

	if err := NewPoller(env.remote, env.cache, env.log, env.clock, time.Second).Run(context.Background(), "h1", stop); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := env.remote.CallCount("", ""); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestPoller_ContextCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPoller(env.remote, env.cache, env.log, env.clock, time.Second).Run(ctx, "h1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
