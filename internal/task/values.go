package task

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Values maps column names to storage values. A present key with a nil
// value means SQL NULL; an absent key means "not touched".
type Values map[string]any

// Lookup returns the raw value for column and whether the key is present.
func (v Values) Lookup(column string) (any, bool) {
	val, ok := v[column]
	return val, ok
}

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Int64 returns column as an integer when present and non-null.
func (v Values) Int64(column string) (int64, bool) {
	val, ok := v[column]
	if !ok || val == nil {
		return 0, false
	}
	return asInt64(val)
}

// String returns column as a string when present and non-null.
func (v Values) String(column string) (string, bool) {
	val, ok := v[column]
	if !ok || val == nil {
		return "", false
	}
	return asString(val)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return asInt64(float64(n))
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case []byte:
		return asInt64(string(n))
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	case int64, int, int32, float64, json.Number:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true":
			return true, true
		case "0", "false":
			return false, true
		}
		return false, false
	}
	n, ok := asInt64(v)
	if !ok {
		return false, false
	}
	return n != 0, true
}
