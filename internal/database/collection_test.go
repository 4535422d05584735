package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"histsync/internal/model"
)

func TestCollection_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts at revision 1", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.Histories.Upsert(ctx, &model.History{ID: "h1", Name: "Unnamed"})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if got.Rev != 1 {
			t.Errorf("Upsert() rev = %d, want 1", got.Rev)
		}
	})

	t.Run("identical body keeps revision", func(t *testing.T) {
		s := newTestStore(t)
		first, err := s.Histories.Upsert(ctx, &model.History{ID: "h1", Name: "Unnamed", Tags: []string{"a"}})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		second, err := s.Histories.Upsert(ctx, first)
		if err != nil {
			t.Fatalf("second Upsert() error = %v", err)
		}
		if second.Rev != first.Rev {
			t.Errorf("re-upsert rev = %d, want %d", second.Rev, first.Rev)
		}
	})

	t.Run("changed body bumps revision", func(t *testing.T) {
		s := newTestStore(t)
		first, _ := s.Histories.Upsert(ctx, &model.History{ID: "h1", Name: "a"})
		first.Name = "b"
		second, err := s.Histories.Upsert(ctx, first)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if second.Rev != 2 {
			t.Errorf("Upsert() rev = %d, want 2", second.Rev)
		}
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		s := newTestStore(t)
		first, _ := s.Histories.Upsert(ctx, &model.History{ID: "h1", Name: "a"})
		stale := *first
		first.Name = "b"
		if _, err := s.Histories.Upsert(ctx, first); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		stale.Name = "c"
		if _, err := s.Histories.Upsert(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("Upsert() error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("plain object overwrites", func(t *testing.T) {
		s := newTestStore(t)
		s.Histories.Upsert(ctx, &model.History{ID: "h1", Name: "a"})
		got, err := s.Histories.Upsert(ctx, &model.History{ID: "h1", Name: "z"})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if got.Name != "z" || got.Rev != 2 {
			t.Errorf("Upsert() = %q rev %d, want z rev 2", got.Name, got.Rev)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.Histories.Upsert(ctx, &model.History{Name: "a"}); !errors.Is(err, ErrMissingPrimaryKey) {
			t.Errorf("Upsert() error = %v, want ErrMissingPrimaryKey", err)
		}
	})
}

func TestCollection_UpsertRaw(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.Collections.UpsertRaw(ctx, map[string]any{
		"id":              "c1",
		"history_id":      "h1",
		"hid":             "3",
		"deleted":         "False",
		"visible":         "True",
		"collection_type": "list",
		"model_class":     "HistoryDatasetCollectionAssociation",
		"bogus":           true,
	})
	if err != nil {
		t.Fatalf("UpsertRaw() error = %v", err)
	}
	if got.TypeID != "dataset_collection-c1" {
		t.Errorf("TypeID = %q", got.TypeID)
	}
	if got.HID != 3 || !got.Visible || got.IsDeleted || got.Purged {
		t.Errorf("UpsertRaw() = %+v", got.Content)
	}
	if got.UpdateTime != "2024-01-15T10:30:00.000000" {
		t.Errorf("UpdateTime = %q, want stamped time", got.UpdateTime)
	}

	found, err := s.Collections.FindByKey(ctx, "c1")
	if err != nil || found == nil {
		t.Fatalf("FindByKey() = %v, %v", found, err)
	}
	if found.ModelClass != "HistoryDatasetCollectionAssociation" || found.Rev != got.Rev {
		t.Errorf("FindByKey() = %+v", found)
	}
}

func TestCollection_Remove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Contents.Upsert(ctx, &model.Content{TypeID: "dataset-1"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.Contents.Remove(ctx, "dataset-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	got, err := s.Contents.FindByKey(ctx, "dataset-1")
	if err != nil {
		t.Fatalf("FindByKey() error = %v", err)
	}
	if got != nil {
		t.Errorf("FindByKey() after Remove = %+v, want nil", got)
	}

	if err := s.Contents.Remove(ctx, "dataset-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
	if err := s.Contents.Remove(ctx, "never"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove() of absent key error = %v, want ErrNotFound", err)
	}

	revived, err := s.Contents.Upsert(ctx, &model.Content{TypeID: "dataset-1"})
	if err != nil {
		t.Fatalf("Upsert() after Remove error = %v", err)
	}
	if revived.Rev != 3 {
		t.Errorf("revived rev = %d, want 3", revived.Rev)
	}
}

func seedContents(t *testing.T, s *Store) {
	t.Helper()
	rows := []*model.Content{
		{TypeID: "dataset-1", HistoryID: "h1", HID: 1, Name: "reads_R1.fastq", Visible: true},
		{TypeID: "dataset-2", HistoryID: "h1", HID: 2, Name: "reads_R2.fastq", Visible: true},
		{TypeID: "dataset-3", HistoryID: "h1", HID: 3, Name: "alignment.bam", Visible: false},
		{TypeID: "dataset-4", HistoryID: "h1", HID: 4, Name: "READS_merged", Visible: true, IsDeleted: true},
		{TypeID: "dataset-5", HistoryID: "h2", HID: 5, Name: "reads", Visible: true},
	}
	for _, r := range rows {
		if _, err := s.Contents.Upsert(context.Background(), r); err != nil {
			t.Fatalf("Upsert(%s) error = %v", r.TypeID, err)
		}
	}
}

func keys(docs []*model.Content) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.TypeID
	}
	return out
}

func TestCollection_Find(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedContents(t, s)

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{
			name: "history sorted by hid desc",
			q:    Query{Where: []Cond{Eq(FieldHistoryID, "h1")}, OrderBy: FieldHID, Desc: true},
			want: []string{"dataset-4", "dataset-3", "dataset-2", "dataset-1"},
		},
		{
			name: "visible and not deleted",
			q: Query{
				Where:   []Cond{Eq(FieldHistoryID, "h1"), Eq(FieldIsDeleted, false), Eq(FieldVisible, true)},
				OrderBy: FieldHID, Desc: true,
			},
			want: []string{"dataset-2", "dataset-1"},
		},
		{
			name: "window",
			q:    Query{Where: []Cond{Eq(FieldHistoryID, "h1")}, OrderBy: FieldHID, Desc: true, Skip: 1, Limit: 2},
			want: []string{"dataset-3", "dataset-2"},
		},
		{
			name: "name match with window",
			q: Query{
				Where: []Cond{Eq(FieldHistoryID, "h1")}, Match: regexp.MustCompile("(?i)reads"),
				OrderBy: FieldHID, Desc: true, Skip: 1, Limit: 1,
			},
			want: []string{"dataset-2"},
		},
		{
			name: "greater than",
			q:    Query{Where: []Cond{Gt(FieldHID, 3)}, OrderBy: FieldHID},
			want: []string{"dataset-4", "dataset-5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Contents.Find(ctx, tt.q)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if g := keys(got); !equalStrings(g, tt.want) {
				t.Errorf("Find() = %v, want %v", g, tt.want)
			}
		})
	}

	t.Run("rejects unknown column", func(t *testing.T) {
		_, err := s.Contents.Find(ctx, Query{Where: []Cond{Eq("body", "x")}})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Find() error = %v, want ErrInvalidQuery", err)
		}
	})
}

func TestCollection_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	results := make(chan []string, 16)
	q := Query{Where: []Cond{Eq(FieldHistoryID, "h1"), Eq(FieldIsDeleted, false)}, OrderBy: FieldHID, Desc: true}
	sub, err := s.Contents.Subscribe(q, func(docs []*model.Content) {
		results <- keys(docs)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	expect := func(want ...string) {
		t.Helper()
		select {
		case got := <-results:
			if !equalStrings(got, want) {
				t.Fatalf("emission = %v, want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no emission, want %v", want)
		}
	}

	expect()

	a, _ := s.Contents.Upsert(ctx, &model.Content{TypeID: "dataset-a", HistoryID: "h1", HID: 2})
	expect("dataset-a")

	s.Contents.Upsert(ctx, &model.Content{TypeID: "dataset-b", HistoryID: "h1", HID: 1})
	expect("dataset-a", "dataset-b")

	// Unrelated writes do not emit.
	s.Contents.Upsert(ctx, &model.Content{TypeID: "dataset-z", HistoryID: "h2", HID: 9})

	a.IsDeleted = true
	if _, err := s.Contents.Upsert(ctx, a); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	expect("dataset-b")

	if err := s.Wipe(ctx); err != nil {
		t.Fatalf("Wipe() error = %v", err)
	}
	expect()

	sub.Unsubscribe()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
	if n := s.Contents.subs.len(); n != 0 {
		t.Errorf("registry has %d subscriptions after Unsubscribe", n)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
