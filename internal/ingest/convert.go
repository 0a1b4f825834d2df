package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the date/time texts accepted as source timestamps.
// Layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

const nanosPerMilli = int64(time.Millisecond)

// Change is one value-change notification from the event source.
type Change struct {
	EntityID string

	// Value is the raw state value: a number, bool or numeric string.
	Value any

	// UpdateTime is the source-reported time: epoch milliseconds as a
	// number, or date/time text. Nil or unrecognized values fall back to
	// the current time.
	UpdateTime any
}

// coerceValue converts a raw state value into a finite float.
func coerceValue(v any) (float64, bool) {
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
	case bool:
		if x {
			f = 1
		}
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
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

// resolveTimestamp derives the record timestamp in nanoseconds.
//
// Order: finite numeric milliseconds, then recognizable date/time text,
// then now.
func resolveTimestamp(updateTime any, now time.Time) int64 {
	if ms, ok := numericMillis(updateTime); ok {
		return ms
	}
	if s, ok := updateTime.(string); ok {
		if t, ok := parseTimeText(s); ok {
			return t.UnixNano()
		}
	}
	return now.UnixNano()
}

// numericMillis converts epoch milliseconds to nanoseconds. Values that
// overflow int64 nanoseconds are rejected.
func numericMillis(v any) (int64, bool) {
	var ms float64
	switch x := v.(type) {
	case int64:
		return intMillis(x)
	case int:
		return intMillis(int64(x))
	case float64:
		ms = x
	case float32:
		ms = float64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return intMillis(n)
		}
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		ms = f
	default:
		return 0, false
	}

	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, false
	}
	whole := math.Trunc(ms)
	if math.Abs(whole) > float64(maxMillis) {
		return 0, false
	}
	frac := math.Round((ms - whole) * float64(nanosPerMilli))
	return int64(whole)*nanosPerMilli + int64(frac), true
}

// maxMillis keeps millisecond to nanosecond conversion inside int64.
const maxMillis = math.MaxInt64/nanosPerMilli - 1

func intMillis(ms int64) (int64, bool) {
	if ms > maxMillis || ms < -maxMillis {
		return 0, false
	}
	return ms * nanosPerMilli, true
}

func parseTimeText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
