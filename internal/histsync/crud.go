package histsync

import (
	"context"
	"fmt"
	"maps"
	"net/http"

	"histsync/internal/model"
)

// Field updates used by the bulk operations.
var (
	hideFields     = map[string]any{"visible": false}
	unhideFields   = map[string]any{"visible": true}
	deleteFields   = map[string]any{"deleted": true}
	undeleteFields = map[string]any{"deleted": false}
	purgeFields    = map[string]any{"deleted": true, "purged": true}
)

// CreateNewHistory creates an empty history on the server and caches it.
func (s *Service) CreateNewHistory(ctx context.Context) (*model.History, error) {
	var raw map[string]any
	body := map[string]any{"name": DefaultHistoryName}
	if err := s.remote.Send(ctx, http.MethodPost, createHistoryURL(), body, &raw); err != nil {
		return nil, err
	}
	return s.cache.CacheHistory(ctx, raw)
}

// CopyHistory clones h on the server, with all datasets or only the active
// ones, and makes the copy current.
func (s *Service) CopyHistory(ctx context.Context, h *model.History, name string, copyAll bool) (*model.History, error) {
	if h == nil || h.ID == "" {
		return nil, &MissingParameterError{Param: "history"}
	}
	body := map[string]any{
		"history_id":   h.ID,
		"all_datasets": copyAll,
		"current":      true,
	}
	if name != "" {
		body["name"] = name
	}

	var raw map[string]any
	if err := s.remote.Send(ctx, http.MethodPost, createHistoryURL(), body, &raw); err != nil {
		return nil, err
	}
	return s.cache.CacheHistory(ctx, withUser(raw, h.UserID))
}

// DeleteHistory deletes or purges h on the server and removes it from the
// cache.
func (s *Service) DeleteHistory(ctx context.Context, h *model.History, purge bool) error {
	if h == nil || h.ID == "" {
		return &MissingParameterError{Param: "history"}
	}
	if err := s.remote.Send(ctx, http.MethodDelete, deleteHistoryURL(h.ID, purge), nil, nil); err != nil {
		return err
	}
	return s.cache.UncacheHistory(ctx, h.ID)
}

// UpdateHistoryFields writes fields to the history and caches the result.
func (s *Service) UpdateHistoryFields(ctx context.Context, historyID string, fields map[string]any) (*model.History, error) {
	if historyID == "" {
		return nil, &MissingParameterError{Param: "historyId"}
	}
	var reply map[string]any
	if err := s.remote.Send(ctx, http.MethodPut, historyURL(historyID), fields, &reply); err != nil {
		return nil, err
	}

	base := map[string]any{"id": historyID}
	local, err := s.cache.GetHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		if base, err = toRaw(local); err != nil {
			return nil, err
		}
	}
	return s.cache.CacheHistory(ctx, merged(base, fields, reply))
}

// DeleteContent deletes c on the server. Purge removes the data; recursive
// also deletes a collection's members.
func (s *Service) DeleteContent(ctx context.Context, c *model.Content, purge, recursive bool) (*model.Content, error) {
	if err := checkItem(c); err != nil {
		return nil, err
	}
	var reply map[string]any
	if err := s.remote.Send(ctx, http.MethodDelete, deleteContentURL(c, purge, recursive), nil, &reply); err != nil {
		return nil, err
	}
	fields := deleteFields
	if purge {
		fields = purgeFields
	}
	return s.cacheMerged(ctx, c, fields, reply)
}

func (s *Service) UndeleteContent(ctx context.Context, c *model.Content) (*model.Content, error) {
	return s.UpdateContent(ctx, c, undeleteFields)
}

// UpdateContent writes fields to c. Collection updates reply with an empty
// body, in which case the local record is merged with fields.
func (s *Service) UpdateContent(ctx context.Context, c *model.Content, fields map[string]any) (*model.Content, error) {
	if err := checkItem(c); err != nil {
		return nil, err
	}
	var reply map[string]any
	if err := s.remote.Send(ctx, http.MethodPut, contentItemURL(c), fields, &reply); err != nil {
		return nil, err
	}
	return s.cacheMerged(ctx, c, fields, reply)
}

func (s *Service) cacheMerged(ctx context.Context, c *model.Content, fields, reply map[string]any) (*model.Content, error) {
	base, err := toRaw(c)
	if err != nil {
		return nil, err
	}
	return s.cache.CacheContent(ctx, merged(base, fields, reply))
}

// UpdateSelectedContent applies updates to every item of selection with a
// single bulk request. The cached records of the items the server reports
// as changed are merged with updates; items missing from the cache are
// skipped.
func (s *Service) UpdateSelectedContent(ctx context.Context, historyID string, selection []*model.Content, updates map[string]any) ([]*model.Content, error) {
	if historyID == "" {
		return nil, &MissingParameterError{Param: "historyId"}
	}
	if len(selection) == 0 {
		return nil, nil
	}

	items := make([]map[string]any, 0, len(selection))
	for _, c := range selection {
		items = append(items, map[string]any{
			"id":                   c.ID,
			"history_content_type": c.HistoryContentType,
		})
	}
	body := maps.Clone(updates)
	if body == nil {
		body = map[string]any{}
	}
	body["items"] = items

	var changed []map[string]any
	if err := s.remote.Send(ctx, http.MethodPut, bulkContentURL(historyID), body, &changed); err != nil {
		return nil, err
	}

	var out []*model.Content
	for _, raw := range changed {
		typeID := changedTypeID(raw)
		if typeID == "" {
			continue
		}
		local, err := s.cache.GetContent(ctx, typeID)
		if err != nil {
			return out, err
		}
		if local == nil {
			continue
		}
		updated, err := s.cacheMerged(ctx, local, updates, nil)
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

func (s *Service) HideSelectedContent(ctx context.Context, historyID string, selection []*model.Content) ([]*model.Content, error) {
	return s.UpdateSelectedContent(ctx, historyID, selection, hideFields)
}

func (s *Service) UnhideSelectedContent(ctx context.Context, historyID string, selection []*model.Content) ([]*model.Content, error) {
	return s.UpdateSelectedContent(ctx, historyID, selection, unhideFields)
}

func (s *Service) DeleteSelectedContent(ctx context.Context, historyID string, selection []*model.Content) ([]*model.Content, error) {
	return s.UpdateSelectedContent(ctx, historyID, selection, deleteFields)
}

func (s *Service) UndeleteSelectedContent(ctx context.Context, historyID string, selection []*model.Content) ([]*model.Content, error) {
	return s.UpdateSelectedContent(ctx, historyID, selection, undeleteFields)
}

func (s *Service) PurgeSelectedContent(ctx context.Context, historyID string, selection []*model.Content) ([]*model.Content, error) {
	return s.UpdateSelectedContent(ctx, historyID, selection, purgeFields)
}

// UnhideAllHiddenContent unhides every hidden item of the history.
func (s *Service) UnhideAllHiddenContent(ctx context.Context, historyID string) ([]*model.Content, error) {
	return s.updateAllMatching(ctx, historyID, []filter{{"visible", false}}, unhideFields)
}

// DeleteAllHiddenContent deletes every hidden item of the history.
func (s *Service) DeleteAllHiddenContent(ctx context.Context, historyID string) ([]*model.Content, error) {
	return s.updateAllMatching(ctx, historyID, []filter{{"visible", false}}, deleteFields)
}

// PurgeAllDeletedContent purges every deleted, not yet purged item.
func (s *Service) PurgeAllDeletedContent(ctx context.Context, historyID string) ([]*model.Content, error) {
	return s.updateAllMatching(ctx, historyID, []filter{{"deleted", true}, {"purged", false}}, purgeFields)
}

func (s *Service) updateAllMatching(ctx context.Context, historyID string, filters []filter, updates map[string]any) ([]*model.Content, error) {
	if historyID == "" {
		return nil, &MissingParameterError{Param: "historyId"}
	}
	var selection []*model.Content
	if err := s.remote.Get(ctx, contentFilterURL(historyID, filters), &selection); err != nil {
		return nil, err
	}
	if len(selection) == 0 {
		return nil, nil
	}
	return s.UpdateSelectedContent(ctx, historyID, selection, updates)
}

// UpdateDataset writes fields to a dataset or collection and merges the
// saved values into both its cached detail and its content summary.
func (s *Service) UpdateDataset(ctx context.Context, detail model.ContentDetail, fields map[string]any) (model.ContentDetail, *model.Content, error) {
	if detail == nil {
		return nil, nil, &MissingParameterError{Param: "content"}
	}
	summary := detail.Summary()
	if err := checkItem(summary); err != nil {
		return nil, nil, err
	}

	var reply map[string]any
	if err := s.remote.Send(ctx, http.MethodPut, contentItemURL(summary), fields, &reply); err != nil {
		return nil, nil, err
	}
	saved := savedFields(fields, reply)

	base, err := toRaw(detail)
	if err != nil {
		return nil, nil, err
	}
	var updated model.ContentDetail
	switch detail.(type) {
	case *model.Dataset:
		updated, err = s.cache.CacheDataset(ctx, merged(base, saved))
	case *model.DatasetCollection:
		updated, err = s.cache.CacheDatasetCollection(ctx, merged(base, saved))
	default:
		err = fmt.Errorf("unsupported detail type %T", detail)
	}
	if err != nil {
		return nil, nil, err
	}

	typeID := summary.TypeID
	if typeID == "" {
		typeID = model.TypeIDFor(summary.HistoryContentType, summary.ID)
	}
	content, err := s.cache.GetContent(ctx, typeID)
	if err != nil || content == nil {
		return updated, nil, err
	}
	content, err = s.cacheMerged(ctx, content, saved, nil)
	if err != nil {
		return updated, nil, err
	}
	return updated, content, nil
}

// merged overlays the overlays onto a copy of base. Setting either of the
// deleted and isDeleted spellings replaces the other.
func merged(base map[string]any, overlays ...map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = map[string]any{}
	}
	for _, o := range overlays {
		for k, v := range o {
			switch k {
			case "deleted":
				delete(out, "isDeleted")
			case "isDeleted":
				delete(out, "deleted")
			}
			out[k] = v
		}
	}
	return out
}

// savedFields is fields with the values the server reported back.
func savedFields(fields, reply map[string]any) map[string]any {
	out := maps.Clone(fields)
	for k := range out {
		if v, ok := reply[k]; ok {
			out[k] = v
		}
	}
	return out
}

func changedTypeID(raw map[string]any) string {
	if id, _ := raw["type_id"].(string); id != "" {
		return id
	}
	id, _ := raw["id"].(string)
	typ, _ := raw["history_content_type"].(string)
	if id == "" || typ == "" {
		return ""
	}
	return model.TypeIDFor(typ, id)
}

// checkItem validates the fields needed to address a single item.
func checkItem(c *model.Content) error {
	if err := checkSummary(c); err != nil {
		return err
	}
	if c.HistoryID == "" {
		return &MissingParameterError{Param: "history_id"}
	}
	if c.HistoryContentType == "" {
		return &MissingParameterError{Param: "history_content_type"}
	}
	return nil
}
