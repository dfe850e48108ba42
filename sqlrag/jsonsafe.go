package sqlrag

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// encodeJSON marshals v for LLM payloads and the tool payload, tolerating
// driver values encoding/json chokes on: byte slices become strings (lib/pq
// returns NUMERIC that way, which keeps exact decimal text), NaN and
// infinities become strings, times become RFC 3339.
func encodeJSON(v any) string {
	data, err := json.Marshal(sanitizeValue(v))
	if err != nil {
		return "{}"
	}
	return string(data)
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprintf("%v", val)
		}
		return val
	case float32:
		return sanitizeValue(float64(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sanitizeValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// sanitizeRow normalises a freshly scanned row in place.
func sanitizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		row[k] = sanitizeValue(v)
	}
	return row
}
