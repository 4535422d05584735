package histsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"histsync/internal/model"
)

func names(list []*model.Content) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.Name)
	}
	return out
}

func equalNames(list []*model.Content, want ...string) bool {
	got := names(list)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestBuildLocalContentQuery_MissingHistory(t *testing.T) {
	var mp *MissingParameterError
	if _, err := BuildLocalContentQuery(SearchParams{Limit: 10}); !errors.As(err, &mp) {
		t.Fatalf("BuildLocalContentQuery() error = %v, want MissingParameterError", err)
	}
	if mp.Param != "historyId" {
		t.Errorf("Param = %q, want historyId", mp.Param)
	}
}

func TestBuildLocalContentQuery_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rows := []struct {
		id      string
		hid     int
		name    string
		deleted bool
		visible bool
	}{
		{"d1", 1, "Reads forward", false, true},
		{"d2", 2, "reads reverse", false, false},
		{"d3", 3, "Alignment", true, true},
		{"d4", 4, "Read counts", false, true},
		{"d5", 5, "Old reads", true, false},
	}
	for _, r := range rows {
		p := contentPayload("h1", r.id, r.hid, r.name)
		p["deleted"] = r.deleted
		p["visible"] = r.visible
		if _, err := env.cache.CacheContent(ctx, p); err != nil {
			t.Fatalf("CacheContent(%s) error = %v", r.id, err)
		}
	}
	other := contentPayload("h2", "x1", 9, "Reads elsewhere")
	if _, err := env.cache.CacheContent(ctx, other); err != nil {
		t.Fatalf("CacheContent() error = %v", err)
	}

	tests := []struct {
		name   string
		params SearchParams
		want   []string
	}{
		{"default", NewSearchParams("h1"), []string{"Read counts", "Reads forward"}},
		{"show deleted", NewSearchParams("h1").WithShowDeleted(true), []string{"Read counts", "Alignment", "Reads forward"}},
		{"show hidden", NewSearchParams("h1").WithShowHidden(true), []string{"Read counts", "reads reverse", "Reads forward"}},
		{"show all", NewSearchParams("h1").WithShowDeleted(true).WithShowHidden(true), []string{"Old reads", "Read counts", "Alignment", "reads reverse", "Reads forward"}},
		{"filter text", NewSearchParams("h1").WithFilterText("READS"), []string{"Reads forward"}},
		{"filter text all", NewSearchParams("h1").WithShowDeleted(true).WithShowHidden(true).WithFilterText("reads"), []string{"Old reads", "reads reverse", "Reads forward"}},
		{"regex special chars", NewSearchParams("h1").WithFilterText("(counts"), nil},
		{"window", SearchParams{HistoryID: "h1", ShowDeleted: true, ShowHidden: true, Skip: 1, Limit: 2}, []string{"Read counts", "Alignment"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := BuildLocalContentQuery(tt.params)
			if err != nil {
				t.Fatalf("BuildLocalContentQuery() error = %v", err)
			}
			got, err := env.store.Contents.Find(ctx, q)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if !equalNames(got, tt.want...) {
				t.Errorf("Find() = %v, want %v", names(got), tt.want)
			}
		})
	}
}

func TestWatchContent_EmptyIsValid(t *testing.T) {
	env := newTestEnv(t)
	rec := newRecorder[*model.Content]()

	sub, err := WatchContent(env.store, NewSearchParams("h1"), rec.fn)
	if err != nil {
		t.Fatalf("WatchContent() error = %v", err)
	}
	defer sub.Unsubscribe()

	if got := rec.next(t); len(got) != 0 {
		t.Errorf("first emission = %v, want empty", names(got))
	}
}

func TestWatchContent_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h1, err := env.cache.CacheHistory(ctx, historyPayload("H1", "u1", t0))
	if err != nil {
		t.Fatalf("CacheHistory() error = %v", err)
	}

	a := contentPayload(h1.ID, "a", 2, "A")
	b := contentPayload(h1.ID, "b", 1, "B")
	for _, p := range []map[string]any{a, b} {
		if _, err := env.cache.CacheContent(ctx, p); err != nil {
			t.Fatalf("CacheContent() error = %v", err)
		}
	}

	rec := newRecorder[*model.Content]()
	sub, err := WatchContent(env.store, SearchParams{HistoryID: h1.ID, Limit: PageSize}, rec.fn)
	if err != nil {
		t.Fatalf("WatchContent() error = %v", err)
	}
	defer sub.Unsubscribe()

	if got := rec.next(t); !equalNames(got, "A", "B") {
		t.Fatalf("first emission = %v, want [A B]", names(got))
	}

	// Re-caching identical data changes nothing.
	if _, err := env.cache.CacheContent(ctx, b); err != nil {
		t.Fatalf("CacheContent() error = %v", err)
	}
	rec.quiet(t, 50*time.Millisecond)

	a["deleted"] = true
	if _, err := env.cache.CacheContent(ctx, a); err != nil {
		t.Fatalf("CacheContent() error = %v", err)
	}
	if got := rec.next(t); !equalNames(got, "B") {
		t.Errorf("after delete = %v, want [B]", names(got))
	}
}
