package histsync

import (
	"regexp"

	"histsync/internal/database"
	"histsync/internal/model"
)

// BuildLocalContentQuery translates params into a store query over content
// summaries, newest first.
func BuildLocalContentQuery(params SearchParams) (database.Query, error) {
	if params.HistoryID == "" {
		return database.Query{}, &MissingParameterError{Param: "historyId"}
	}

	q := database.Query{
		Where:   []database.Cond{database.Eq(database.FieldHistoryID, params.HistoryID)},
		OrderBy: database.FieldHID,
		Desc:    true,
		Skip:    params.Skip,
		Limit:   params.Limit,
	}
	if !params.ShowDeleted {
		q.Where = append(q.Where, database.Eq(database.FieldIsDeleted, false))
	}
	if !params.ShowHidden {
		q.Where = append(q.Where, database.Eq(database.FieldVisible, true))
	}
	if params.FilterText != "" {
		q.Match = nameMatcher(params.FilterText)
	}
	return q, nil
}

// nameMatcher compiles the filter text as a case-insensitive pattern. Text
// that is not a valid pattern matches literally.
func nameMatcher(text string) *regexp.Regexp {
	if re, err := regexp.Compile("(?i)" + text); err == nil {
		return re
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(text))
}

// WatchContent subscribes fn to the content matching params. fn receives the
// current result right away and again after every change to it. An empty
// result is a valid state.
func WatchContent(store *database.Store, params SearchParams, fn func([]*model.Content)) (*database.Subscription, error) {
	q, err := BuildLocalContentQuery(params)
	if err != nil {
		return nil, err
	}
	return store.Contents.Subscribe(q, fn)
}
