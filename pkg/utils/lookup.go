package utils

import (
	"strconv"
	"strings"
)

// Lookup walks a decoded JSON value along a dotted path. Numeric segments
// index into arrays. The second result is false when any segment is missing.
func Lookup(v interface{}, path string) (interface{}, bool) {
	if path == "" {
		return v, v != nil
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// FirstString returns the first non-blank string among paths. Numbers are
// formatted so identifiers that arrive as numbers still resolve.
func FirstString(v interface{}, paths ...string) *string {
	for _, p := range paths {
		raw, ok := Lookup(v, p)
		if !ok {
			continue
		}
		switch x := raw.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return &s
			}
		case bool, map[string]interface{}, []interface{}:
			continue
		default:
			if f, ok := InterfaceToFloat64(x); ok {
				s := strconv.FormatFloat(f, 'f', -1, 64)
				return &s
			}
		}
	}
	return nil
}

// FirstFloat returns the first value among paths that converts to a number.
func FirstFloat(v interface{}, paths ...string) *float64 {
	for _, p := range paths {
		raw, ok := Lookup(v, p)
		if !ok {
			continue
		}
		if _, isBool := raw.(bool); isBool {
			continue
		}
		if f, ok := InterfaceToFloat64(raw); ok {
			return &f
		}
	}
	return nil
}

// FirstInt is FirstFloat truncated to an int.
func FirstInt(v interface{}, paths ...string) *int {
	f := FirstFloat(v, paths...)
	if f == nil {
		return nil
	}
	i := int(*f)
	return &i
}

// FirstBool returns the first value among paths that reads as a boolean.
func FirstBool(v interface{}, paths ...string) *bool {
	for _, p := range paths {
		raw, ok := Lookup(v, p)
		if !ok {
			continue
		}
		if b, ok := ParseBool(raw); ok {
			return &b
		}
	}
	return nil
}

// FirstMap returns the first non-empty object among paths.
func FirstMap(v interface{}, paths ...string) map[string]interface{} {
	for _, p := range paths {
		raw, ok := Lookup(v, p)
		if !ok {
			continue
		}
		if m, ok := raw.(map[string]interface{}); ok && len(m) > 0 {
			return m
		}
	}
	return nil
}

// FirstList returns the first array among paths. A {"data": [...]} wrapper
// is unwrapped because list resources are inconsistently enveloped.
func FirstList(v interface{}, paths ...string) []interface{} {
	for _, p := range paths {
		raw, ok := Lookup(v, p)
		if !ok {
			continue
		}
		switch x := raw.(type) {
		case []interface{}:
			return x
		case map[string]interface{}:
			if inner, ok := x["data"].([]interface{}); ok {
				return inner
			}
		}
	}
	return nil
}

// AsList coerces a list resource into rows: a bare array, a {"data": [...]}
// wrapper, or a single object treated as one row.
func AsList(v interface{}) []interface{} {
	switch x := v.(type) {
	case []interface{}:
		return x
	case map[string]interface{}:
		if inner := FirstList(x, "data", "devices", "clients", "profiles", "eeros", "nodes", "list"); inner != nil {
			return inner
		}
		if len(x) > 0 {
			return []interface{}{x}
		}
	}
	return nil
}

// StringList returns the string members of an array path, skipping blanks.
func StringList(v interface{}, paths ...string) []string {
	for _, p := range paths {
		raw, ok := Lookup(v, p)
		if !ok {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := FirstString(item, ""); s != nil {
				out = append(out, *s)
			} else if s := FirstString(item, "name", "id", "app_id"); s != nil {
				out = append(out, *s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
