package histsync

import (
	"context"
	"fmt"

	"histsync/internal/model"
)

// DetailCache keeps Dataset and DatasetCollection details in step with their
// content summaries. A cached detail is served without a request unless it
// is missing or older than the summary.
//
// Two callers expanding the same item at once may both fetch; both writes are
// idempotent upserts and converge.
type DetailCache struct {
	cache  *EntityCache
	remote Remote
	log    Logger
}

func NewDetailCache(cache *EntityCache, remote Remote, log Logger) *DetailCache {
	return &DetailCache{cache: cache, remote: remote, log: log}
}

// Dataset returns the current dataset detail for content.
func (d *DetailCache) Dataset(ctx context.Context, content *model.Content) (*model.Dataset, error) {
	if err := checkSummary(content); err != nil {
		return nil, err
	}
	cached, err := d.cache.GetDataset(ctx, content.ID)
	if err != nil {
		return nil, err
	}
	if cached != nil && !isStale(cached.UpdateTime, content.UpdateTime) {
		return cached, nil
	}

	raw, err := d.fetch(ctx, content)
	if err != nil {
		return nil, err
	}
	return d.cache.CacheDataset(ctx, raw)
}

// Collection returns the current collection detail for content.
func (d *DetailCache) Collection(ctx context.Context, content *model.Content) (*model.DatasetCollection, error) {
	if err := checkSummary(content); err != nil {
		return nil, err
	}
	cached, err := d.cache.GetDatasetCollection(ctx, content.ID)
	if err != nil {
		return nil, err
	}
	if cached != nil && !isStale(cached.UpdateTime, content.UpdateTime) {
		return cached, nil
	}

	raw, err := d.fetch(ctx, content)
	if err != nil {
		return nil, err
	}
	return d.cache.CacheDatasetCollection(ctx, raw)
}

// Detail dispatches on the summary's content type.
func (d *DetailCache) Detail(ctx context.Context, content *model.Content) (model.ContentDetail, error) {
	if content == nil {
		return nil, &MissingParameterError{Param: "content"}
	}
	switch content.HistoryContentType {
	case model.ContentTypeDataset:
		return d.Dataset(ctx, content)
	case model.ContentTypeCollection:
		return d.Collection(ctx, content)
	default:
		return nil, fmt.Errorf("unknown content type %q for %s", content.HistoryContentType, content.TypeID)
	}
}

func (d *DetailCache) fetch(ctx context.Context, content *model.Content) (map[string]any, error) {
	var raw map[string]any
	if err := d.remote.Get(ctx, detailURL(content), &raw); err != nil {
		return nil, fmt.Errorf("fetching detail for %s: %w", content.TypeID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("fetching detail for %s: empty response", content.TypeID)
	}

	// Details inherit fields the detail endpoints leave out.
	if _, ok := raw["history_content_type"]; !ok {
		raw["history_content_type"] = content.HistoryContentType
	}
	if _, ok := raw["hid"]; !ok {
		raw["hid"] = content.HID
	}
	if _, ok := raw["history_id"]; !ok && content.HistoryID != "" {
		raw["history_id"] = content.HistoryID
	}

	// A detail older than its summary would be stale on arrival.
	ts, _ := raw["update_time"].(string)
	if content.UpdateTime != "" && (ts == "" || isStale(ts, content.UpdateTime)) {
		d.log.Debug("raising detail update_time to summary", "type_id", content.TypeID, "detail", ts, "summary", content.UpdateTime)
		raw["update_time"] = content.UpdateTime
	}
	return raw, nil
}

// isStale reports whether a detail stamped detailTime lags a summary stamped
// summaryTime.
func isStale(detailTime, summaryTime string) bool {
	return model.IsBefore(detailTime, summaryTime)
}

func checkSummary(content *model.Content) error {
	if content == nil {
		return &MissingParameterError{Param: "content"}
	}
	if content.ID == "" {
		return &MissingParameterError{Param: "id"}
	}
	return nil
}
