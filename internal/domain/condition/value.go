package condition

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

type absent struct{}

// Absent is returned by Lookup for a path that does not resolve.
var Absent any = absent{}

func present(v any) bool {
	_, missing := v.(absent)
	return !missing
}

// Lookup resolves a dotted path in doc. Map keys are matched exactly;
// numeric segments index into slices. It returns Absent when any segment
// is missing.
func Lookup(doc map[string]any, path string) any {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return Absent
			}
			cur = next
		default:
			list, ok := asSlice(cur)
			if !ok {
				if m, ok := asMap(cur); ok {
					next, found := m[seg]
					if !found {
						return Absent
					}
					cur = next
					continue
				}
				return Absent
			}
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(list) {
				return Absent
			}
			cur = list[i]
		}
	}
	return cur
}

// matchesEqual reports equality with array-contains semantics: a list
// value matches a scalar operand when any element equals it.
func matchesEqual(v, want any) bool {
	if equal(v, want) {
		return true
	}
	if _, wantList := asSlice(want); wantList {
		return false
	}
	if list, ok := asSlice(v); ok {
		for _, el := range list {
			if equal(el, want) {
				return true
			}
		}
	}
	return false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if ta, tb, ok := timePair(a, b); ok {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// compareOrdered compares numbers, times and strings. ok is false for
// absent values and mismatched kinds.
func compareOrdered(a, b any) (int, bool) {
	if !present(a) {
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if isTime(a) || isTime(b) {
		ta, tb, ok := timePair(a, b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

// timePair converts a and b to times when at least one of them already is
// one. The other side may be an RFC3339 string, the form conditions take
// once they pass through JSON.
func timePair(a, b any) (time.Time, time.Time, bool) {
	if !isTime(a) && !isTime(b) {
		return time.Time{}, time.Time{}, false
	}
	ta, aok := toTime(a)
	tb, bok := toTime(b)
	return ta, tb, aok && bok
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

// normalize converts typed slices and maps to their generic forms so
// DeepEqual compares decoded JSON and YAML values structurally.
func normalize(v any) any {
	if list, ok := asSlice(v); ok {
		out := make([]any, len(list))
		for i, el := range list {
			out[i] = normalize(el)
		}
		return out
	}
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, el := range m {
			out[k] = normalize(el)
		}
		return out
	}
	return v
}
