// Package convert coerces loosely-typed engine payload scalars.
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToFloat64 converts various numeric encodings to float64.
// Returns 0 for unsupported types or parse failures.
func ToFloat64(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

// ToFloat64Strict is ToFloat64 with an error for values that cannot be
// read as a finite number. Used where a silent zero would corrupt P&L math.
func ToFloat64Strict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("non-finite number %v", t)
		}
		return t, nil
	case float32, int, int64, int32, uint64, json.Number:
		return ToFloat64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("non-finite number %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// ToInt truncates any numeric encoding to an int, 0 on failure.
func ToInt(v any) int {
	return int(ToFloat64(v))
}

// ToString renders scalar identifiers uniformly; integers keep their exact
// form so ids survive the float round-trip JSON gives them.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
