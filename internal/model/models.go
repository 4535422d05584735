package model

import (
	"fmt"
	"strings"
	"time"
)

// Content types reported in history_content_type.
const (
	ContentTypeDataset    = "dataset"
	ContentTypeCollection = "dataset_collection"
)

// Meta carries the store revision of a cached document.
// Revision 0 means the value did not come out of the store.
type Meta struct {
	Rev int64 `json:"_rev,omitempty"`
}

func (m *Meta) Revision() int64     { return m.Rev }
func (m *Meta) SetRevision(r int64) { m.Rev = r }

// Index holds the queryable columns of a cached document.
type Index struct {
	HistoryID  string
	UserID     string
	HID        int
	IsDeleted  bool
	Visible    bool
	Name       string
	UpdateTime string
}

// ContentsActive summarizes item counts in a history.
type ContentsActive struct {
	Active  int `json:"active"`
	Deleted int `json:"deleted"`
	Hidden  int `json:"hidden"`
}

// History is the top-level container of a user's datasets and collections.
type History struct {
	Meta
	ID             string          `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	Name           string          `json:"name"`
	CreateTime     string          `json:"create_time,omitempty"`
	UpdateTime     string          `json:"update_time,omitempty"`
	IsDeleted      bool            `json:"isDeleted"`
	Purged         bool            `json:"purged"`
	Size           int64           `json:"size"`
	HIDCounter     int             `json:"hid_counter"`
	Tags           []string        `json:"tags"`
	Annotation     string          `json:"annotation,omitempty"`
	GenomeBuild    string          `json:"genome_build,omitempty"`
	Published      bool            `json:"published"`
	Importable     bool            `json:"importable"`
	Slug           string          `json:"slug,omitempty"`
	URL            string          `json:"url,omitempty"`
	ContentsURL    string          `json:"contents_url,omitempty"`
	NonReadyJobs   []string        `json:"non_ready_jobs,omitempty"`
	ContentsActive *ContentsActive `json:"contents_active,omitempty"`
}

func (h *History) PrimaryKey() string { return h.ID }

func (h *History) Indexed() Index {
	return Index{
		UserID:     h.UserID,
		IsDeleted:  h.IsDeleted,
		Visible:    true,
		Name:       h.Name,
		UpdateTime: h.UpdateTime,
	}
}

// NiceSize renders the history size for display, e.g. "1.50 MB".
func (h *History) NiceSize() string {
	if h.Size <= 0 {
		return "(empty)"
	}
	return bytesToString(h.Size)
}

func bytesToString(size int64) string {
	units := []struct {
		limit float64
		label string
	}{
		{1e12, "TB"},
		{1e9, "GB"},
		{1e6, "MB"},
		{1e3, "KB"},
	}
	f := float64(size)
	for _, u := range units {
		if f >= u.limit {
			return fmt.Sprintf("%.2f %s", f/u.limit, u.label)
		}
	}
	return fmt.Sprintf("%d b", size)
}

// Content is the summary row listed for a history. Datasets and collections
// share the list, so the primary key is the composite type_id.
type Content struct {
	Meta
	TypeID             string   `json:"type_id"`
	ID                 string   `json:"id"`
	HistoryID          string   `json:"history_id"`
	HID                int      `json:"hid"`
	HistoryContentType string   `json:"history_content_type"`
	Name               string   `json:"name"`
	CreateTime         string   `json:"create_time,omitempty"`
	UpdateTime         string   `json:"update_time"`
	IsDeleted          bool     `json:"isDeleted"`
	Purged             bool     `json:"purged"`
	Visible            bool     `json:"visible"`
	Accessible         bool     `json:"accessible"`
	State              string   `json:"state,omitempty"`
	PopulatedState     string   `json:"populated_state,omitempty"`
	ElementCount       int      `json:"element_count,omitempty"`
	CollectionType     string   `json:"collection_type,omitempty"`
	Tags               []string `json:"tags"`
	URL                string   `json:"url,omitempty"`
}

func (c *Content) PrimaryKey() string { return c.TypeID }

func (c *Content) Indexed() Index {
	return Index{
		HistoryID:  c.HistoryID,
		HID:        c.HID,
		IsDeleted:  c.IsDeleted,
		Visible:    c.Visible,
		Name:       c.Name,
		UpdateTime: c.UpdateTime,
	}
}

// TypeIDFor builds the composite key shared by summaries and details.
func TypeIDFor(contentType, id string) string {
	return contentType + "-" + id
}

// UpdateDate parses update_time. Unparseable values yield the zero time.
func (c *Content) UpdateDate() time.Time {
	t, _ := ParseTime(c.UpdateTime)
	return t
}

func (c *Content) IsDeletedOrPurged() bool {
	return c.IsDeleted || c.Purged
}

// Title is the display name decorated with the item's states.
func (c *Content) Title() string {
	var states []string
	if c.IsDeleted {
		states = append(states, "Deleted")
	}
	if !c.Visible {
		states = append(states, "Hidden")
	}
	if c.Purged {
		states = append(states, "Purged")
	}
	if len(states) == 0 {
		return c.Name
	}
	return fmt.Sprintf("%s (%s)", c.Name, strings.Join(states, ", "))
}

// MetaFile is an auxiliary file attached to a dataset.
type MetaFile struct {
	FileType    string `json:"file_type"`
	DownloadURL string `json:"download_url"`
}

// Permissions lists role ids for dataset access.
type Permissions struct {
	Access []string `json:"access"`
	Manage []string `json:"manage"`
}

// Dataset is the full detail record of a dataset.
type Dataset struct {
	Content
	FileSize      int64        `json:"file_size"`
	FileExt       string       `json:"file_ext,omitempty"`
	FileName      string       `json:"file_name,omitempty"`
	Extension     string       `json:"extension,omitempty"`
	DataType      string       `json:"data_type,omitempty"`
	GenomeBuild   string       `json:"genome_build,omitempty"`
	MetadataDBKey string       `json:"metadata_dbkey,omitempty"`
	MiscBlurb     string       `json:"misc_blurb,omitempty"`
	MiscInfo      string       `json:"misc_info,omitempty"`
	Peek          string       `json:"peek,omitempty"`
	Annotation    string       `json:"annotation,omitempty"`
	UUID          string       `json:"uuid,omitempty"`
	DownloadURL   string       `json:"download_url,omitempty"`
	ModelClass    string       `json:"model_class,omitempty"`
	CreatingJob   string       `json:"creating_job,omitempty"`
	DatasetID     string       `json:"dataset_id,omitempty"`
	HDALDDA       string       `json:"hda_ldda,omitempty"`
	APIType       string       `json:"api_type,omitempty"`
	Rerunnable    bool         `json:"rerunnable"`
	Resubmitted   bool         `json:"resubmitted"`
	MetaFiles     []MetaFile   `json:"meta_files,omitempty"`
	Permissions   *Permissions `json:"permissions,omitempty"`
}

func (d *Dataset) PrimaryKey() string { return d.ID }

// DatasetCollection is the full detail record of a dataset collection.
type DatasetCollection struct {
	Content
	Elements              []Element `json:"elements,omitempty"`
	Populated             bool      `json:"populated"`
	PopulatedStateMessage string    `json:"populated_state_message,omitempty"`
	JobSourceID           string    `json:"job_source_id,omitempty"`
	JobSourceType         string    `json:"job_source_type,omitempty"`
	ModelClass            string    `json:"model_class,omitempty"`
}

func (c *DatasetCollection) PrimaryKey() string { return c.ID }

// CollectionCount describes the number of elements, or "" when unknown.
func (c *DatasetCollection) CollectionCount() string {
	switch c.ElementCount {
	case 0:
		return ""
	case 1:
		return "with 1 item"
	default:
		return fmt.Sprintf("with %d items", c.ElementCount)
	}
}

// CollectionTypeDescription names the collection shape for display.
func (c *DatasetCollection) CollectionTypeDescription() string {
	switch c.CollectionType {
	case "":
		return ""
	case "list":
		return "list"
	case "paired":
		return "dataset pair"
	case "list:paired":
		return "list of pairs"
	default:
		return "nested list"
	}
}
