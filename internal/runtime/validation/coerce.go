package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/gnssflow/internal/runtime/jsoncodec"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// Float converts JSON numbers, Go numerics and numeric text to float64.
// NaN and infinities are rejected.
func Float(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int converts to int64. Fractional input is truncated toward zero.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint32:
		return int64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := Float(v)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if !ok || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bool accepts JSON booleans, numbers (non-zero is true) and the strings
// understood by strconv.ParseBool.
func Bool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, false
		}
		return b, true
	}
	if f, ok := Float(v); ok {
		return f != 0, true
	}
	return false, false
}

// String renders scalars as text. Objects and arrays are rejected.
func String(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(x), true
	default:
		return "", false
	}
}

// Timestamp keeps numeric epochs numeric (integral values as int64) and parses
// textual dates into UTC times. Numeric text is treated as an epoch.
func Timestamp(v any) (any, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case string:
		s := strings.TrimSpace(x)
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return numericTimestamp(json.Number(s))
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return nil, false
	default:
		return numericTimestamp(v)
	}
}

func numericTimestamp(v any) (any, bool) {
	f, ok := Float(v)
	if !ok {
		return nil, false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), true
	}
	return f, true
}

// JSONText stores objects and arrays as JSON documents. Scalars pass through
// as text.
func JSONText(v any) (any, bool) {
	switch x := v.(type) {
	case map[string]any, []any:
		data, err := jsoncodec.Marshal(x)
		if err != nil {
			return nil, false
		}
		return string(data), true
	default:
		return String(v)
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
