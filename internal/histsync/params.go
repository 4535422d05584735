package histsync

import "fmt"

// PageSize is the number of items requested from the server per page.
const PageSize = 25

// SearchParams selects a window of a history's content. The setters that
// change filters reset the window to the first page.
type SearchParams struct {
	HistoryID   string
	FilterText  string
	ShowDeleted bool
	ShowHidden  bool
	Skip        int
	Limit       int
}

// NewSearchParams returns the first page of visible, undeleted content.
func NewSearchParams(historyID string) SearchParams {
	return SearchParams{HistoryID: historyID, Limit: PageSize}
}

// ResetExtrema returns p with the window reset to the first page.
func (p SearchParams) ResetExtrema() SearchParams {
	p.Skip = 0
	p.Limit = PageSize
	return p
}

// Chunk returns p limited to a single page of size.
func (p SearchParams) Chunk(size int) SearchParams {
	p.Limit = size
	return p
}

// NextPage returns p advanced by size items.
func (p SearchParams) NextPage(size int) SearchParams {
	p.Skip += size
	return p
}

// ExtendLimit grows the window by pages pages, for scrolling.
func (p SearchParams) ExtendLimit(pages int) SearchParams {
	p.Limit += pages * PageSize
	return p
}

func (p SearchParams) WithFilterText(text string) SearchParams {
	p = p.ResetExtrema()
	p.FilterText = text
	return p
}

func (p SearchParams) WithShowDeleted(show bool) SearchParams {
	p = p.ResetExtrema()
	p.ShowDeleted = show
	return p
}

func (p SearchParams) WithShowHidden(show bool) SearchParams {
	p = p.ResetExtrema()
	p.ShowHidden = show
	return p
}

// FiltersEqual reports whether a and b select the same content, ignoring
// the window.
func FiltersEqual(a, b SearchParams) bool {
	return a.ResetExtrema() == b.ResetExtrema()
}

func (p SearchParams) String() string {
	return fmt.Sprintf("Params: %s (%d,%d)", p.HistoryID, p.Skip, p.Limit)
}
