package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidQuery is returned for queries on unknown columns or operators.
var ErrInvalidQuery = errors.New("invalid query")

// Indexed columns available to queries.
const (
	FieldKey        = "key"
	FieldHistoryID  = "history_id"
	FieldUserID     = "user_id"
	FieldHID        = "hid"
	FieldIsDeleted  = "is_deleted"
	FieldVisible    = "visible"
	FieldName       = "name"
	FieldUpdateTime = "update_time"
)

var indexColumns = map[string]bool{
	FieldKey:        true,
	FieldHistoryID:  true,
	FieldUserID:     true,
	FieldHID:        true,
	FieldIsDeleted:  true,
	FieldVisible:    true,
	FieldName:       true,
	FieldUpdateTime: true,
}

var operators = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

// Cond compares an indexed column with a value.
type Cond struct {
	Field string
	Op    string
	Value any
}

func Eq(field string, v any) Cond { return Cond{Field: field, Op: "=", Value: v} }
func Gt(field string, v any) Cond { return Cond{Field: field, Op: ">", Value: v} }
func Lt(field string, v any) Cond { return Cond{Field: field, Op: "<", Value: v} }

// Query selects live documents. Match filters on the name column; when set,
// Skip and Limit apply to the matched rows.
type Query struct {
	Where   []Cond
	Match   *regexp.Regexp
	OrderBy string
	Desc    bool
	Skip    int
	Limit   int
}

func (q Query) validate() error {
	for _, c := range q.Where {
		if !indexColumns[c.Field] {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, c.Field)
		}
		if !operators[c.Op] {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Op)
		}
	}
	if q.OrderBy != "" && !indexColumns[q.OrderBy] {
		return fmt.Errorf("%w: unknown sort field %q", ErrInvalidQuery, q.OrderBy)
	}
	if q.Skip < 0 || q.Limit < 0 {
		return fmt.Errorf("%w: negative window", ErrInvalidQuery)
	}
	return nil
}

func (q Query) build(table string) (string, []any, error) {
	if err := q.validate(); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	args := make([]any, 0, len(q.Where)+2)

	sb.WriteString("SELECT rev, name, body FROM ")
	sb.WriteString(table)
	sb.WriteString(" WHERE tombstone = 0")
	for _, c := range q.Where {
		fmt.Fprintf(&sb, " AND %s %s ?", c.Field, c.Op)
		args = append(args, sqlValue(c.Value))
	}

	sb.WriteString(" ORDER BY ")
	if q.OrderBy != "" {
		sb.WriteString(q.OrderBy)
		if q.Desc {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", ")
	}
	sb.WriteString("key")

	if q.Match == nil && (q.Limit > 0 || q.Skip > 0) {
		limit := q.Limit
		if limit == 0 {
			limit = -1
		}
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, q.Skip)
	}
	return sb.String(), args, nil
}

func sqlValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
