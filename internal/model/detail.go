package model

import "encoding/json"

// Element types used inside a collection's element envelope.
const (
	ElementTypeDataset    = "hda"
	ElementTypeCollection = "dataset_collection"
)

// Element is one entry of a collection's nested element tree. The API wraps
// the child record in Object and names it by ElementIdentifier.
type Element struct {
	ID                string          `json:"id,omitempty"`
	ElementIdentifier string          `json:"element_identifier"`
	ElementIndex      int             `json:"element_index"`
	ElementType       string          `json:"element_type"`
	ModelClass        string          `json:"model_class,omitempty"`
	Object            json.RawMessage `json:"object,omitempty"`
}

// ContentDetail is either a *Dataset or a *DatasetCollection.
type ContentDetail interface {
	Summary() *Content
	contentDetail()
}

func (d *Dataset) Summary() *Content { return &d.Content }
func (*Dataset) contentDetail()      {}

func (c *DatasetCollection) Summary() *Content { return &c.Content }
func (*DatasetCollection) contentDetail()      {}

// Children builds the typed child tree of the collection. Elements with an
// unknown element_type or an undecodable object are skipped.
func (c *DatasetCollection) Children() []ContentDetail {
	children := make([]ContentDetail, 0, len(c.Elements))
	for _, el := range c.Elements {
		if child := el.Detail(); child != nil {
			children = append(children, child)
		}
	}
	return children
}

// Detail decodes the wrapped object. The element identifier becomes the name.
func (e Element) Detail() ContentDetail {
	switch e.ElementType {
	case ElementTypeDataset:
		var d Dataset
		if len(e.Object) > 0 && json.Unmarshal(e.Object, &d) != nil {
			return nil
		}
		d.Name = e.ElementIdentifier
		if d.HistoryContentType == "" {
			d.HistoryContentType = ContentTypeDataset
		}
		return &d
	case ElementTypeCollection:
		var dc DatasetCollection
		if len(e.Object) > 0 && json.Unmarshal(e.Object, &dc) != nil {
			return nil
		}
		dc.Name = e.ElementIdentifier
		if dc.HistoryContentType == "" {
			dc.HistoryContentType = ContentTypeCollection
		}
		return &dc
	default:
		return nil
	}
}
