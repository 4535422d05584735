package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"histsync/internal/model"
	"histsync/internal/schema"
)

// Entity is a cached record type.
type Entity interface {
	PrimaryKey() string
	Revision() int64
	SetRevision(rev int64)
	Indexed() model.Index
}

// Collection is a typed view over one table of the store.
type Collection[T Entity] struct {
	store  *Store
	schema *schema.Schema
	newDoc func() T
	subs   *registry
}

func newCollection[T Entity](s *Store, sc *schema.Schema, newDoc func() T) *Collection[T] {
	return &Collection[T]{
		store:  s,
		schema: sc,
		newDoc: newDoc,
		subs:   newRegistry(),
	}
}

// Name returns the collection (and table) name.
func (c *Collection[T]) Name() string { return c.schema.Name }

// Schema returns the declared field set documents are conformed to.
func (c *Collection[T]) Schema() *schema.Schema { return c.schema }

// Upsert conforms doc to the collection schema and writes it. A doc with a
// non-zero revision must match the stored revision. Writing a body equal to
// the stored one leaves the revision unchanged and notifies nobody.
func (c *Collection[T]) Upsert(ctx context.Context, doc T) (T, error) {
	raw, err := toMap(doc)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: encoding document: %w", c.Name(), err)
	}
	return c.UpsertRaw(ctx, raw)
}

// UpsertRaw is Upsert for a decoded JSON payload.
func (c *Collection[T]) UpsertRaw(ctx context.Context, raw map[string]any) (T, error) {
	var zero T

	conformed, err := c.schema.Conform(raw, c.store.now().UTC())
	if err != nil {
		return zero, err
	}
	doc, err := c.decodeMap(conformed)
	if err != nil {
		return zero, err
	}

	rev := doc.Revision()
	doc.SetRevision(0)
	body, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("%s: encoding document: %w", c.Name(), err)
	}

	key := doc.PrimaryKey()
	newRev, changed, err := c.write(ctx, key, rev, body, doc.Indexed())
	if err != nil {
		return zero, err
	}
	doc.SetRevision(newRev)
	if changed {
		c.subs.notify()
	}
	return doc, nil
}

func (c *Collection[T]) write(ctx context.Context, key string, rev int64, body []byte, idx model.Index) (int64, bool, error) {
	var newRev int64
	var changed bool

	err := c.store.withDB(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer tx.Rollback()

		var (
			stored     int64
			tombstone  bool
			storedBody string
		)
		err = tx.QueryRowContext(ctx,
			"SELECT rev, tombstone, body FROM "+c.Name()+" WHERE key = ?", key,
		).Scan(&stored, &tombstone, &storedBody)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, "INSERT INTO "+c.Name()+
				" (key, rev, tombstone, body, history_id, user_id, hid, is_deleted, visible, name, update_time)"+
				" VALUES (?, 1, 0, ?, ?, ?, ?, ?, ?, ?, ?)",
				key, string(body), idx.HistoryID, idx.UserID, idx.HID, idx.IsDeleted, idx.Visible, idx.Name, idx.UpdateTime)
			if err != nil {
				return fmt.Errorf("inserting document: %w", err)
			}
			newRev = 1
		case err != nil:
			return fmt.Errorf("reading document: %w", err)
		default:
			if rev != 0 && rev != stored {
				return fmt.Errorf("%s %q at revision %d, write has %d: %w", c.Name(), key, stored, rev, ErrVersionConflict)
			}
			if !tombstone && storedBody == string(body) {
				newRev = stored
				return nil
			}
			res, err := tx.ExecContext(ctx, "UPDATE "+c.Name()+
				" SET rev = ?, tombstone = 0, body = ?, history_id = ?, user_id = ?, hid = ?, is_deleted = ?, visible = ?, name = ?, update_time = ?"+
				" WHERE key = ? AND rev = ?",
				stored+1, string(body), idx.HistoryID, idx.UserID, idx.HID, idx.IsDeleted, idx.Visible, idx.Name, idx.UpdateTime,
				key, stored)
			if err != nil {
				return fmt.Errorf("updating document: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return fmt.Errorf("%s %q: %w", c.Name(), key, ErrVersionConflict)
			}
			newRev = stored + 1
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing document: %w", err)
		}
		changed = true
		return nil
	})
	return newRev, changed, err
}

// FindByKey returns the document stored under key, or nil when it is absent
// or has been removed.
func (c *Collection[T]) FindByKey(ctx context.Context, key string) (T, error) {
	var zero T
	var (
		rev  int64
		body string
	)
	err := c.store.withDB(func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT rev, body FROM "+c.Name()+" WHERE key = ? AND tombstone = 0", key,
		).Scan(&rev, &body)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("%s: finding %q: %w", c.Name(), key, err)
	}
	return c.decode(rev, body)
}

// Remove tombstones the document under key. The row stays invisible to reads
// until it is upserted again.
func (c *Collection[T]) Remove(ctx context.Context, key string) error {
	err := c.store.withDB(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE "+c.Name()+" SET tombstone = 1, rev = rev + 1 WHERE key = ? AND tombstone = 0", key)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: removing %q: %w", c.Name(), key, err)
	}
	c.subs.notify()
	return nil
}

// Find runs q once.
func (c *Collection[T]) Find(ctx context.Context, q Query) ([]T, error) {
	stmt, args, err := q.build(c.Name())
	if err != nil {
		return nil, err
	}

	var docs []T
	err = c.store.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		skipped := 0
		for rows.Next() {
			var (
				rev  int64
				name string
				body string
			)
			if err := rows.Scan(&rev, &name, &body); err != nil {
				return err
			}
			if q.Match != nil {
				if !q.Match.MatchString(name) {
					continue
				}
				if skipped < q.Skip {
					skipped++
					continue
				}
				if q.Limit > 0 && len(docs) >= q.Limit {
					break
				}
			}
			doc, err := c.decode(rev, body)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", c.Name(), err)
	}
	return docs, nil
}

func (c *Collection[T]) decode(rev int64, body string) (T, error) {
	doc := c.newDoc()
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: decoding document: %w", c.Name(), err)
	}
	doc.SetRevision(rev)
	return doc, nil
}

// decodeMap builds a typed document from a conformed payload. Values that
// do not fit their field leave the field at its zero value.
func (c *Collection[T]) decodeMap(m map[string]any) (T, error) {
	var zero T
	b, err := json.Marshal(m)
	if err != nil {
		return zero, fmt.Errorf("%s: encoding document: %w", c.Name(), err)
	}
	doc := c.newDoc()
	if err := json.Unmarshal(b, doc); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return zero, fmt.Errorf("%s: decoding document: %w", c.Name(), err)
		}
	}
	return doc, nil
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
