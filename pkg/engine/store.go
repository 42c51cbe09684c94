package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Store holds the values of one candidate, keyed by parameter name. It is
// owned by whoever proposed the candidate; parameters only read and write it.
type Store map[string]any

// Clone returns a deep copy of the store.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	for k, v := range s {
		switch tv := v.(type) {
		case []float64:
			out[k] = append([]float64(nil), tv...)
		case []any:
			out[k] = append([]any(nil), tv...)
		default:
			out[k] = v
		}
	}
	return out
}

// Key returns a canonical encoding of the store, suitable for detecting
// candidates that were already evaluated.
func (s Store) Key() string {
	// encoding/json sorts map keys, and an int and an integral float64
	// encode identically.
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(s))
	}
	return string(data)
}

// toInt converts the numeric representations a store can hold after a
// JSON round trip into an int.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloatSlice(v any) ([]float64, bool) {
	switch vs := v.(type) {
	case []float64:
		return append([]float64(nil), vs...), true
	case []any:
		out := make([]float64, len(vs))
		for i, e := range vs {
			f, ok := toFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

// elementKey returns a comparable identity for a universe element.
func elementKey(v any) string {
	data, err := json.Marshal(plainValue(v))
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}

// plainValue converts json.Number values produced by the decoder into int
// or float64, recursing into slices and maps.
func plainValue(v any) any {
	switch tv := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(tv), 10, 64); err == nil {
			return int(i)
		}
		if f, err := tv.Float64(); err == nil {
			return f
		}
		return string(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = plainValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = plainValue(e)
		}
		return out
	default:
		return v
	}
}
