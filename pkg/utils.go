package pkg

import (
	"math"
	"reflect"
)

func Filter[T any](items []T, predicate func(T) bool) []T {
	filtered := []T{}
	for _, item := range items {
		if predicate(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// Converts a value suspected to be any Go integer kind, or an integral float64
// (json decoding gives us those), to an int64.
// The second return is false when the value is not an integer at all.
func ToInt64(num any) (int64, bool) {
	switch num := num.(type) {
	case int:
		return int64(num), true
	case int8:
		return int64(num), true
	case int16:
		return int64(num), true
	case int32:
		return int64(num), true
	case int64:
		return num, true
	case uint:
		return int64(num), true
	case uint8:
		return int64(num), true
	case uint16:
		return int64(num), true
	case uint32:
		return int64(num), true
	case uint64:
		if num > math.MaxInt64 {
			return 0, false
		}
		return int64(num), true
	case float32:
		return floatToInt64(float64(num))
	case float64:
		return floatToInt64(num)
	}
	return 0, false
}

func floatToInt64(f float64) (int64, bool) {
	// float64(math.MaxInt64) rounds up to 2^63, which int64 can't hold
	if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, false
	}
	return int64(f), true
}

// CloneValue deep copies maps and slices so callers can't mutate stored rows
// through a returned value.
func CloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = CloneValue(e)
		}
		return out
	case nil:
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneElem(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

func cloneElem(e reflect.Value, t reflect.Type) reflect.Value {
	c := CloneValue(e.Interface())
	if c == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(c)
}
