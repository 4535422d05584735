package histsync

import (
	"net/url"
	"strconv"
	"strings"

	"histsync/internal/model"
)

// Polling contexts tracked in the request time table.
const (
	ContextHistoryPoll = "historypoll"
	ContextContentPoll = "contentpoll"
)

const (
	historyView    = "view=dev-detailed"
	contentSummary = "v=dev&view=summary&keys=accessible"
)

// filter is one q/qv pair of the API's query syntax.
type filter struct {
	field string
	value any
}

// encodeFilters renders q=field&qv=value pairs. Booleans are sent as
// "True"/"False".
func encodeFilters(filters []filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, "q="+f.field+"&qv="+url.QueryEscape(filterValue(f.value)))
	}
	return strings.Join(parts, "&")
}

func filterValue(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}

func joinURL(base string, parts ...string) string {
	var sb strings.Builder
	sb.WriteString(base)
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteByte('&')
		sb.WriteString(p)
	}
	return sb.String()
}

// historiesURL lists the user's histories, optionally only those changed
// after since.
func historiesURL(since string) string {
	var update string
	if since != "" {
		update = encodeFilters([]filter{{"update_time-gt", since}})
	}
	return joinURL("/api/histories?"+historyView, update)
}

func historyURL(id string) string {
	return "/api/histories/" + id + "?" + historyView
}

// createHistoryURL is used for both creation and cloning.
func createHistoryURL() string {
	return "/api/histories?" + historyView
}

func deleteHistoryURL(id string, purge bool) string {
	u := "/api/histories/" + id
	if purge {
		u += "?purge=True"
	}
	return u
}

// manualContentURL requests one page of a history's content, newest first.
func manualContentURL(p SearchParams, pageSize int) string {
	var filters []filter
	if !p.ShowDeleted {
		filters = append(filters, filter{"deleted", false}, filter{"purged", false})
	}
	if !p.ShowHidden {
		filters = append(filters, filter{"visible", true})
	}
	if p.FilterText != "" {
		filters = append(filters, filter{"name-contains", p.FilterText})
	}
	return joinURL(
		"/api/histories/"+p.HistoryID+"/contents?context=manual&"+contentSummary,
		"order=hid-dsc",
		"offset="+strconv.Itoa(p.Skip),
		"limit="+strconv.Itoa(pageSize),
		encodeFilters(filters),
	)
}

// pollHistoryURL requests the history if it changed after since. An empty
// since requests it unconditionally.
func pollHistoryURL(historyID, since string) string {
	filters := []filter{{"encoded_id-in", historyID}}
	if since != "" {
		filters = append(filters, filter{"update_time-gt", since})
	}
	return joinURL(
		"/api/histories?view=detailed&keys=size,non_ready_jobs,contents_active,hid_counter&context="+ContextHistoryPoll,
		encodeFilters(filters),
	)
}

// pollContentsURL requests the content of a history changed after since.
func pollContentsURL(historyID, since string) string {
	var update string
	if since != "" {
		update = encodeFilters([]filter{{"update_time-gt", since}})
	}
	return joinURL(
		"/api/histories/"+historyID+"/contents?"+contentSummary+"&context="+ContextContentPoll,
		update,
	)
}

// contentFilterURL lists all content of a history matching filters.
func contentFilterURL(historyID string, filters []filter) string {
	return joinURL("/api/histories/"+historyID+"/contents?"+contentSummary, encodeFilters(filters))
}

func bulkContentURL(historyID string) string {
	return "/api/histories/" + historyID + "/contents"
}

// contentItemURL addresses a single dataset or collection of a history.
func contentItemURL(c *model.Content) string {
	return "/api/histories/" + c.HistoryID + "/contents/" + c.HistoryContentType + "s/" + c.ID
}

func deleteContentURL(c *model.Content, purge, recursive bool) string {
	return contentItemURL(c) + "?purge=" + strconv.FormatBool(purge) + "&recursive=" + strconv.FormatBool(recursive)
}

// detailURL is the record's own link, or the item URL when it has none.
func detailURL(c *model.Content) string {
	if c.URL != "" {
		return c.URL
	}
	return contentItemURL(c)
}
