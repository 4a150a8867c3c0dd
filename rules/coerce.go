package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// toNumber casts v to a float64. Values with no numeric reading yield NaN, which makes
// every ordered comparison false.
func toNumber(v any) float64 {
	switch val := v.(type) {
	case nil:
		return math.NaN()
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// isNumeric reports whether v holds a Go numeric value.
func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}

// toString coerces v for substring tests.
func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = toString(elem)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

// strictEqual compares without cross-kind coercion: 1 equals 1.0, but "1" does not equal 1.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumeric(a) && isNumeric(b) {
		return toNumber(a) == toNumber(b)
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// isFalsy mirrors the truthiness check used by "required" validation.
func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return val == ""
	}
	if isNumeric(v) {
		n := toNumber(v)
		return n == 0 || math.IsNaN(n)
	}
	return false
}

// asList returns the elements of a slice or array value.
func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// ToNumber converts v the way the ordered comparison operators do.
func ToNumber(v any) float64 { return toNumber(v) }

// ToString converts v the way the substring operators do.
func ToString(v any) string { return toString(v) }

// StrictEqual compares v and w the way equals and in do.
func StrictEqual(v, w any) bool { return strictEqual(v, w) }

// AsList returns the elements of a list condition value.
func AsList(v any) ([]any, bool) { return asList(v) }
