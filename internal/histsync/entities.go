package histsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"histsync/internal/database"
	"histsync/internal/model"
	"histsync/internal/schema"
)

// EntityCache is the read/write surface onto the document store. Sources
// passed to the Cache methods may be a map[string]any, raw JSON ([]byte or
// json.RawMessage) or a typed record.
type EntityCache struct {
	store  *database.Store
	log    Logger
	clock  Clock
	policy ConflictPolicy
}

// NewEntityCache creates an EntityCache using DefaultConflictPolicy.
func NewEntityCache(store *database.Store, log Logger, clock Clock) *EntityCache {
	return &EntityCache{
		store:  store,
		log:    log,
		clock:  clock,
		policy: DefaultConflictPolicy,
	}
}

// WithConflictPolicy returns a copy of c using p.
func (c *EntityCache) WithConflictPolicy(p ConflictPolicy) *EntityCache {
	cp := *c
	cp.policy = p
	return &cp
}

// Store returns the underlying document store.
func (c *EntityCache) Store() *database.Store { return c.store }

func (c *EntityCache) CacheHistory(ctx context.Context, src any) (*model.History, error) {
	return cacheDoc(ctx, c, c.store.Histories, src)
}

func (c *EntityCache) GetHistory(ctx context.Context, id string) (*model.History, error) {
	return getDoc(ctx, c.store.Histories, id)
}

func (c *EntityCache) UncacheHistory(ctx context.Context, item any) error {
	return uncacheDoc(ctx, c, c.store.Histories, item)
}

func (c *EntityCache) CacheContent(ctx context.Context, src any) (*model.Content, error) {
	return cacheDoc(ctx, c, c.store.Contents, src)
}

func (c *EntityCache) GetContent(ctx context.Context, typeID string) (*model.Content, error) {
	return getDoc(ctx, c.store.Contents, typeID)
}

func (c *EntityCache) UncacheContent(ctx context.Context, item any) error {
	return uncacheDoc(ctx, c, c.store.Contents, item)
}

func (c *EntityCache) CacheDataset(ctx context.Context, src any) (*model.Dataset, error) {
	return cacheDoc(ctx, c, c.store.Datasets, src)
}

func (c *EntityCache) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	return getDoc(ctx, c.store.Datasets, id)
}

func (c *EntityCache) UncacheDataset(ctx context.Context, item any) error {
	return uncacheDoc(ctx, c, c.store.Datasets, item)
}

func (c *EntityCache) CacheDatasetCollection(ctx context.Context, src any) (*model.DatasetCollection, error) {
	return cacheDoc(ctx, c, c.store.Collections, src)
}

func (c *EntityCache) GetDatasetCollection(ctx context.Context, id string) (*model.DatasetCollection, error) {
	return getDoc(ctx, c.store.Collections, id)
}

func (c *EntityCache) UncacheDatasetCollection(ctx context.Context, item any) error {
	return uncacheDoc(ctx, c, c.store.Collections, item)
}

func cacheDoc[T database.Entity](ctx context.Context, c *EntityCache, coll *database.Collection[T], src any) (T, error) {
	var zero T

	raw, err := toRaw(src)
	if err != nil {
		return zero, &CacheWriteError{Collection: coll.Name(), Err: err}
	}
	if m := schema.Diff(coll.Schema(), raw); len(m.Extra) > 0 {
		c.log.Info("schema mismatch", "collection", m.Collection, "extra", m.Extra, "missing", m.Missing)
	}

	conformed, err := coll.Schema().Conform(raw, c.clock.Now().UTC())
	if err != nil {
		c.log.Error("cache write failed", "collection", coll.Name(), "error", err)
		return zero, &CacheWriteError{Collection: coll.Name(), Err: err}
	}
	key, _ := conformed[coll.Schema().Key].(string)

	doc, err := upsertWithPolicy(ctx, c.policy, c.log, coll, key, conformed)
	if err != nil {
		c.log.Error("cache write failed", "collection", coll.Name(), "key", key, "error", err)
		return zero, &CacheWriteError{Collection: coll.Name(), Key: key, Err: err}
	}
	if isNil(doc) || doc.PrimaryKey() != key {
		err := errors.New("store returned no document")
		c.log.Error("cache write failed", "collection", coll.Name(), "key", key, "error", err)
		return zero, &CacheWriteError{Collection: coll.Name(), Key: key, Err: err}
	}
	return doc, nil
}

func getDoc[T database.Entity](ctx context.Context, coll *database.Collection[T], key string) (T, error) {
	if key == "" {
		var zero T
		return zero, &MissingParameterError{Param: coll.Schema().Key}
	}
	return coll.FindByKey(ctx, key)
}

func uncacheDoc[T database.Entity](ctx context.Context, c *EntityCache, coll *database.Collection[T], item any) error {
	key, err := c.keyOf(coll.Schema(), item)
	if err != nil {
		return &CacheDeleteError{Collection: coll.Name(), Err: err}
	}

	existing, err := coll.FindByKey(ctx, key)
	if err == nil && isNil(existing) {
		err = database.ErrNotFound
	}
	if err != nil {
		c.log.Error("cache delete failed", "collection", coll.Name(), "key", key, "error", err)
		return &CacheDeleteError{Collection: coll.Name(), Key: key, Err: err}
	}
	if err := coll.Remove(ctx, key); err != nil {
		c.log.Error("cache delete failed", "collection", coll.Name(), "key", key, "error", err)
		return &CacheDeleteError{Collection: coll.Name(), Key: key, Err: err}
	}
	return nil
}

// keyOf resolves item to its primary key. A string is taken as the key.
func (c *EntityCache) keyOf(s *schema.Schema, item any) (string, error) {
	if key, ok := item.(string); ok {
		if key == "" {
			return "", &MissingParameterError{Param: s.Key}
		}
		return key, nil
	}
	raw, err := toRaw(item)
	if err != nil {
		return "", err
	}
	doc, err := s.Conform(raw, c.clock.Now().UTC())
	if err != nil {
		return "", err
	}
	key, _ := doc[s.Key].(string)
	return key, nil
}

// toRaw normalizes a cache source to a decoded JSON object.
func toRaw(src any) (map[string]any, error) {
	switch v := src.(type) {
	case nil:
		return nil, errors.New("nothing to cache")
	case map[string]any:
		return v, nil
	case []byte:
		return decodeObject(v)
	case json.RawMessage:
		return decodeObject(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding %T: %w", src, err)
		}
		return decodeObject(b)
	}
}

func decodeObject(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if m == nil {
		return nil, errors.New("document is null")
	}
	return m, nil
}

func isNil[T any](v T) bool {
	var zero T
	return any(v) == any(zero)
}
