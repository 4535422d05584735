package histsync

import (
	"context"
	"net/http"
	"sync"

	"histsync/internal/database"
	"histsync/internal/model"
)

// DefaultHistoryName names histories created on a user's behalf.
const DefaultHistoryName = "New History"

// HistorySync keeps the list of the current user's histories in step with
// the store. Histories reach the cache through two queues that any caller
// may push onto.
type HistorySync struct {
	cache  *EntityCache
	remote Remote
	log    Logger

	add    *ChangeQueue[any]
	remove *ChangeQueue[any]

	mu      sync.Mutex
	current *historyWatch
}

type historyWatch struct {
	userID string
	cancel context.CancelFunc
	sub    *database.Subscription
	wg     sync.WaitGroup
}

// NewHistorySync starts the add and remove queues. Close stops them.
func NewHistorySync(entities *EntityCache, remote Remote, log Logger) *HistorySync {
	h := &HistorySync{cache: entities, remote: remote, log: log}
	h.add = NewChangeQueue("history-add", log, func(ctx context.Context, item any) error {
		_, err := entities.CacheHistory(ctx, item)
		return err
	})
	h.remove = NewChangeQueue("history-remove", log, func(ctx context.Context, item any) error {
		return entities.UncacheHistory(ctx, item)
	})
	h.add.Start(context.Background())
	h.remove.Start(context.Background())
	return h
}

// AddHistory queues a history payload or record for caching.
func (h *HistorySync) AddHistory(item any) { h.add.Push(item) }

// RemoveHistory queues a history, or its id, for removal from the cache.
func (h *HistorySync) RemoveHistory(item any) { h.remove.Push(item) }

// Watch replaces the running pipeline with one for userID. fn receives the
// user's cached histories, most recently updated first, now and after
// every change. In the background the histories changed on the server since
// the newest cached one are loaded; a user with no histories gets a new one.
func (h *HistorySync) Watch(ctx context.Context, userID string, fn func([]*model.History)) error {
	if userID == "" {
		return &MissingParameterError{Param: "userId"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()

	wctx, cancel := context.WithCancel(ctx)
	w := &historyWatch{userID: userID, cancel: cancel}
	sub, err := h.cache.Store().Histories.Subscribe(userHistoriesQuery(userID), func(list []*model.History) {
		if wctx.Err() != nil {
			return
		}
		fn(list)
	})
	if err != nil {
		cancel()
		return err
	}
	w.sub = sub
	h.current = w

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		h.loadFresh(wctx, userID)
	}()
	return nil
}

// UserID is the user of the running pipeline, if any.
func (h *HistorySync) UserID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return ""
	}
	return h.current.userID
}

// Stop ends the running pipeline, if any.
func (h *HistorySync) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// Close ends the pipeline and the queues.
func (h *HistorySync) Close() {
	h.Stop()
	h.add.Close()
	h.remove.Close()
}

func (h *HistorySync) stopLocked() {
	w := h.current
	if w == nil {
		return
	}
	h.current = nil
	w.cancel()
	w.sub.Unsubscribe()
	w.wg.Wait()
}

func (h *HistorySync) loadFresh(ctx context.Context, userID string) {
	existing, list, err := h.fetchChanged(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			h.log.Warn("loading histories failed", "user_id", userID, "error", err)
		}
		return
	}
	for _, raw := range list {
		h.AddHistory(raw)
	}
	if len(existing) > 0 || len(list) > 0 || ctx.Err() != nil {
		return
	}

	created, err := h.createDefault(ctx, userID)
	if err != nil {
		h.log.Warn("creating default history failed", "user_id", userID, "error", err)
		return
	}
	h.AddHistory(created)
}

// Refresh caches the histories of userID changed on the server since the
// newest cached one and returns the full cached list. A user without
// histories gets a new one.
func (h *HistorySync) Refresh(ctx context.Context, userID string) ([]*model.History, error) {
	if userID == "" {
		return nil, &MissingParameterError{Param: "userId"}
	}
	existing, list, err := h.fetchChanged(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, raw := range list {
		if _, err := h.cache.CacheHistory(ctx, raw); err != nil {
			return nil, err
		}
	}
	if len(existing) == 0 && len(list) == 0 {
		created, err := h.createDefault(ctx, userID)
		if err != nil {
			return nil, err
		}
		if _, err := h.cache.CacheHistory(ctx, created); err != nil {
			return nil, err
		}
	}
	return h.cache.Store().Histories.Find(ctx, userHistoriesQuery(userID))
}

// fetchChanged returns the cached histories of userID and the server's
// records changed since the newest of them.
func (h *HistorySync) fetchChanged(ctx context.Context, userID string) ([]*model.History, []map[string]any, error) {
	existing, err := h.cache.Store().Histories.Find(ctx, userHistoriesQuery(userID))
	if err != nil {
		return nil, nil, err
	}
	var list []map[string]any
	if err := h.remote.Get(ctx, historiesURL(HistoryLastChanged(existing)), &list); err != nil {
		return existing, nil, err
	}
	for _, raw := range list {
		withUser(raw, userID)
	}
	return existing, list, nil
}

func (h *HistorySync) createDefault(ctx context.Context, userID string) (map[string]any, error) {
	var created map[string]any
	body := map[string]any{"name": DefaultHistoryName}
	if err := h.remote.Send(ctx, http.MethodPost, createHistoryURL(), body, &created); err != nil {
		return nil, err
	}
	h.log.Info("created default history", "user_id", userID, "id", created["id"])
	return withUser(created, userID), nil
}

// HistoryLastChanged returns the newest update_time among list, or "" for
// an empty list.
func HistoryLastChanged(list []*model.History) string {
	var last string
	for _, h := range list {
		if h == nil || h.UpdateTime == "" {
			continue
		}
		if last == "" || model.IsBefore(last, h.UpdateTime) {
			last = h.UpdateTime
		}
	}
	return last
}

func userHistoriesQuery(userID string) database.Query {
	return database.Query{
		Where:   []database.Cond{database.Eq(database.FieldUserID, userID)},
		OrderBy: database.FieldUpdateTime,
		Desc:    true,
	}
}

// withUser stamps records the server returned for the current user, which
// may leave user_id out of some views.
func withUser(raw map[string]any, userID string) map[string]any {
	if raw == nil {
		return nil
	}
	if id, _ := raw["user_id"].(string); id == "" {
		raw["user_id"] = userID
	}
	return raw
}
