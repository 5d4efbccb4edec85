package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/cascade/internal/money"
)

// timeLayout is used for every timestamp column. UTC with fixed fractional
// width keeps lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand (fixtures, manual repair) may use plain RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// marshalBreakdown encodes a level → amount map as a JSON object keyed by
// the decimal level number, amounts in minor units.
func marshalBreakdown(b map[int]money.Amount) (string, error) {
	if len(b) == 0 {
		return "{}", nil
	}
	m := make(map[string]int64, len(b))
	for level, amount := range b {
		m[strconv.Itoa(level)] = int64(amount)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal breakdown: %w", err)
	}
	return string(data), nil
}

// unmarshalBreakdown is the inverse of marshalBreakdown.
// Always returns a non-nil map.
func unmarshalBreakdown(data string) (map[int]money.Amount, error) {
	out := map[int]money.Amount{}
	if data == "" || data == "{}" {
		return out, nil
	}
	var m map[string]int64
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	for k, v := range m {
		level, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("unmarshal breakdown: invalid level %q", k)
		}
		out[level] = money.Amount(v)
	}
	return out, nil
}

// breakdownPath is the json_set path of one level in the breakdown column.
func breakdownPath(level int) string {
	return fmt.Sprintf(`$."%d"`, level)
}
