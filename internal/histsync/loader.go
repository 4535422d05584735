package histsync

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// LoadResult summarizes one manual load.
type LoadResult struct {
	Requests int // pages fetched from the server
	Skipped  int // pages skipped because the URL was already issued
	Cached   int // records written to the cache
}

// ManualLoader walks a history's content backward from the newest item,
// one page at a time, until a requested window is filled.
//
// A URL is issued at most once per loader. Repeated windows are left to
// the poll loop, which picks up server-side changes under visited URLs.
type ManualLoader struct {
	remote   Remote
	cache    *EntityCache
	log      Logger
	pageSize int
	seen     *cache.Cache
}

func NewManualLoader(remote Remote, entities *EntityCache, log Logger, pageSize int) *ManualLoader {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	return &ManualLoader{
		remote:   remote,
		cache:    entities,
		log:      log,
		pageSize: pageSize,
		seen:     cache.New(cache.NoExpiration, 0),
	}
}

// Load fills the window described by params. Pages are cached as they
// arrive. Load stops early when stop fires, when the server returns a short
// page or when a request fails; fetch errors are returned to the caller.
func (l *ManualLoader) Load(ctx context.Context, params SearchParams, stop *StopSignal) (LoadResult, error) {
	var res LoadResult
	if params.HistoryID == "" {
		return res, &MissingParameterError{Param: "historyId"}
	}

	end := params.Skip + params.Limit
	page := params.Chunk(l.pageSize)
	for {
		if stop.Stopped() {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		items, fetched, err := l.fetchPage(ctx, manualContentURL(page, l.pageSize))
		if err != nil {
			return res, err
		}
		if !fetched {
			res.Skipped++
		} else {
			res.Requests++
			for _, raw := range items {
				if _, err := l.cache.CacheContent(ctx, raw); err != nil {
					l.log.Warn("skipping content record", "history_id", params.HistoryID, "error", err)
					continue
				}
				res.Cached++
			}
		}

		if page.Skip+page.Limit >= end {
			return res, nil
		}
		if fetched && len(items) < l.pageSize {
			return res, nil
		}
		page = page.NextPage(l.pageSize)
	}
}

// Forget clears the set of issued URLs.
func (l *ManualLoader) Forget() {
	l.seen.Flush()
}

// fetchPage claims u and requests it. It reports fetched=false when u was
// claimed before. A failed request releases the claim so it can be retried.
func (l *ManualLoader) fetchPage(ctx context.Context, u string) ([]map[string]any, bool, error) {
	if err := l.seen.Add(u, struct{}{}, cache.NoExpiration); err != nil {
		l.log.Debug("skipping issued request", "url", u)
		return nil, false, nil
	}

	var items []map[string]any
	if err := l.remote.Get(ctx, u, &items); err != nil {
		l.seen.Delete(u)
		return nil, false, err
	}
	return items, true, nil
}
