package sqlrag

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestEncodeJSONSanitizesDriverValues(t *testing.T) {
	ts := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	row := map[string]any{
		"price":      []byte("1234.5600"),
		"ratio":      math.NaN(),
		"created_at": ts,
		"name":       "bitcoin",
		"missing":    nil,
	}

	got := encodeJSON([]map[string]any{row})

	for _, want := range []string{
		`"price":"1234.5600"`,
		`"ratio":"NaN"`,
		`"created_at":"2026-08-26T12:00:00Z"`,
		`"name":"bitcoin"`,
		`"missing":null`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("encoded payload missing %s:\n%s", want, got)
		}
	}
}

func TestSanitizeValueInfinity(t *testing.T) {
	if got := sanitizeValue(math.Inf(1)); got != "+Inf" {
		t.Errorf("sanitizeValue(+Inf) = %v", got)
	}
	if got := sanitizeValue(float32(2.5)); got != float64(2.5) {
		t.Errorf("sanitizeValue(float32) = %v", got)
	}
}

func TestSanitizeRowInPlace(t *testing.T) {
	row := map[string]any{"value": []byte("9.99")}
	sanitizeRow(row)
	if row["value"] != "9.99" {
		t.Errorf("value = %v", row["value"])
	}
}
