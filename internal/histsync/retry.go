package histsync

import (
	"context"
	"errors"
	"maps"

	"histsync/internal/database"
	"histsync/internal/schema"
)

// ConflictPolicy decides what happens when a write loses an optimistic
// revision check. The write is retried Retries times against the reloaded
// revision. After that the conflict is logged and the stored document is
// returned without error; a later poll reconciles.
type ConflictPolicy struct {
	Retries int
}

// DefaultConflictPolicy retries once.
var DefaultConflictPolicy = ConflictPolicy{Retries: 1}

func upsertWithPolicy[T database.Entity](ctx context.Context, p ConflictPolicy, log Logger, coll *database.Collection[T], key string, doc map[string]any) (T, error) {
	stored, err := coll.UpsertRaw(ctx, doc)
	for attempt := 0; attempt < p.Retries && errors.Is(err, database.ErrVersionConflict); attempt++ {
		current, ferr := coll.FindByKey(ctx, key)
		if ferr != nil {
			return stored, ferr
		}
		next := maps.Clone(doc)
		if isNil(current) {
			delete(next, schema.RevField)
		} else {
			next[schema.RevField] = float64(current.Revision())
		}
		stored, err = coll.UpsertRaw(ctx, next)
	}

	if errors.Is(err, database.ErrVersionConflict) {
		log.Warn("giving up on conflicting write", "collection", coll.Name(), "key", key, "retries", p.Retries, "error", err)
		return coll.FindByKey(ctx, key)
	}
	return stored, err
}
