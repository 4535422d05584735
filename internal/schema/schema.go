// Package schema projects raw server payloads onto the declared field sets of
// the cached record types.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"histsync/internal/model"
)

// ErrMissingPrimaryKey is the only failure Conform reports.
var ErrMissingPrimaryKey = errors.New("missing primary key")

// RevField is the store revision key allowed on every document.
const RevField = "_rev"

// Field names with normalization rules attached.
const (
	fieldDeleted    = "deleted"
	fieldIsDeleted  = "isDeleted"
	fieldPurged     = "purged"
	fieldUpdateTime = "update_time"
	fieldTypeID     = "type_id"
	fieldID         = "id"
	fieldType       = "history_content_type"
	fieldTags       = "tags"
)

// Schema is the declared field set of one collection.
type Schema struct {
	Name string
	Key  string

	fields map[string]reflect.Type
	names  []string

	// stampUpdateTime fills a missing update_time with the current time.
	stampUpdateTime bool
	// contentType is used to synthesize type_id when the payload carries no
	// history_content_type.
	contentType string
	typeID      bool
}

// Declared schemas of the four collections.
var (
	History           = newSchema("history", fieldID, model.History{}, false, false, "")
	Content           = newSchema("historycontent", fieldTypeID, model.Content{}, true, true, "")
	Dataset           = newSchema("dataset", fieldID, model.Dataset{}, true, true, model.ContentTypeDataset)
	DatasetCollection = newSchema("datasetcollection", fieldID, model.DatasetCollection{}, true, true, model.ContentTypeCollection)
)

func newSchema(name, key string, proto any, stamp, typeID bool, contentType string) *Schema {
	s := &Schema{
		Name:            name,
		Key:             key,
		fields:          make(map[string]reflect.Type),
		stampUpdateTime: stamp,
		typeID:          typeID,
		contentType:     contentType,
	}
	collectFields(reflect.TypeOf(proto), s.fields)
	for n := range s.fields {
		s.names = append(s.names, n)
	}
	sort.Strings(s.names)
	return s
}

// collectFields walks json-tagged struct fields, flattening embedded structs.
func collectFields(t reflect.Type, out map[string]reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			collectFields(f.Type, out)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Type
	}
}

// Fields returns the declared field names in sorted order, including _rev.
func (s *Schema) Fields() []string {
	return append([]string(nil), s.names...)
}

// Declares reports whether name is part of the schema.
func (s *Schema) Declares(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Conform builds a new document holding only declared fields, with values
// coerced to the declared types and the normalization rules applied. The
// input map is not modified. now stamps a missing update_time.
func (s *Schema) Conform(raw map[string]any, now time.Time) (map[string]any, error) {
	doc := make(map[string]any, len(s.fields))
	for name, typ := range s.fields {
		v, ok := raw[name]
		if !ok {
			continue
		}
		if cv, ok := coerce(v, typ); ok {
			doc[name] = cv
		}
	}

	if _, ok := doc[fieldIsDeleted]; !ok {
		if v, ok := raw[fieldDeleted]; ok {
			if b, ok := coerce(v, reflect.TypeOf(false)); ok {
				doc[fieldIsDeleted] = b
			}
		}
	}

	if s.Declares(fieldPurged) {
		purged, _ := doc[fieldPurged].(bool)
		doc[fieldPurged] = purged
		if purged {
			doc[fieldIsDeleted] = true
		}
	}

	if tags, ok := doc[fieldTags].([]any); ok {
		doc[fieldTags] = dedupe(tags)
	}

	if s.stampUpdateTime {
		if ts, _ := doc[fieldUpdateTime].(string); ts == "" {
			doc[fieldUpdateTime] = model.FormatTime(now)
		}
	}

	if s.typeID {
		if tid, _ := doc[fieldTypeID].(string); tid == "" {
			id, _ := doc[fieldID].(string)
			ct, _ := doc[fieldType].(string)
			if ct == "" {
				ct = s.contentType
			}
			if id != "" && ct != "" {
				doc[fieldTypeID] = model.TypeIDFor(ct, id)
				if _, ok := doc[fieldType]; !ok {
					doc[fieldType] = ct
				}
			}
		}
	}

	if key, _ := doc[s.Key].(string); key == "" {
		return nil, fmt.Errorf("%s: %w %q", s.Name, ErrMissingPrimaryKey, s.Key)
	}
	return doc, nil
}

// SchemaMismatch lists the keys on which a document and its schema disagree.
type SchemaMismatch struct {
	Collection string
	// Extra are keys present in the document but not declared.
	Extra []string
	// Missing are declared keys absent from the document.
	Missing []string
}

func (m SchemaMismatch) Empty() bool { return len(m.Extra) == 0 && len(m.Missing) == 0 }

func (m SchemaMismatch) String() string {
	return fmt.Sprintf("%s: extra=%v missing=%v", m.Collection, m.Extra, m.Missing)
}

// Diff computes the symmetric difference between the document keys and the
// declared fields. _rev and the legacy deleted flag are never reported.
func Diff(s *Schema, raw map[string]any) SchemaMismatch {
	m := SchemaMismatch{Collection: s.Name}
	for k := range raw {
		if k == fieldDeleted {
			continue
		}
		if !s.Declares(k) {
			m.Extra = append(m.Extra, k)
		}
	}
	for _, k := range s.names {
		if k == RevField {
			continue
		}
		if _, ok := raw[k]; !ok {
			if k == fieldIsDeleted {
				if _, ok := raw[fieldDeleted]; ok {
					continue
				}
			}
			m.Missing = append(m.Missing, k)
		}
	}
	sort.Strings(m.Extra)
	return m
}

func dedupe(tags []any) []any {
	seen := make(map[string]bool, len(tags))
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		s, ok := t.(string)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
