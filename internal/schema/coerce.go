package schema

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// coerce converts a decoded JSON value to the representation of typ.
// The second result is false when the value cannot be represented and
// should be dropped.
func coerce(v any, typ reflect.Type) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch typ.Kind() {
	case reflect.Bool:
		return toBool(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := toNumber(v)
		if !ok || f != math.Trunc(f) {
			return nil, false
		}
		if typ.Kind() >= reflect.Uint && f < 0 {
			return nil, false
		}
		return f, true
	case reflect.Float32, reflect.Float64:
		return toNumber(v)
	case reflect.String:
		switch x := v.(type) {
		case string:
			return x, true
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), true
		case json.Number:
			return x.String(), true
		}
		return nil, false
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.String {
			return toStrings(v)
		}
		return fitsType(v, typ)
	default:
		return fitsType(v, typ)
	}
}

// toStrings keeps the string elements of a list and drops the rest.
func toStrings(v any) (any, bool) {
	switch x := v.(type) {
	case []any:
		out := make([]any, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	case []string:
		out := make([]any, 0, len(x))
		for _, s := range x {
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func toBool(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1":
			return true, true
		case "false", "0", "":
			return false, true
		}
	case float64:
		return x != 0, true
	}
	return nil, false
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// fitsType keeps a composite value when it decodes into typ.
func fitsType(v any, typ reflect.Type) (any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(b, reflect.New(typ).Interface()); err != nil {
		return nil, false
	}
	return v, true
}
