package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// millisThreshold separates unix seconds from unix milliseconds.
var millisThreshold = decimal.New(1, 12)

// Number is a JSON value that may arrive as a number or a numeric string.
// Valid is false when the field was absent, null or not numeric.
type Number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON never fails; unusable input leaves the Number invalid.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	d, ok := parseDecimal(data)
	if !ok {
		return nil
	}
	f, _ := d.Float64()
	n.Value, n.Valid = f, true
	return nil
}

// Ptr returns a pointer to the value, or nil when invalid.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Or returns the value, or def when invalid.
func (n Number) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

// Time is a timestamp that may arrive as unix seconds, unix milliseconds,
// a numeric string of either, or an RFC3339 string. Zero means absent.
type Time struct {
	time.Time
}

// UnmarshalJSON never fails; unusable input leaves the Time zero.
func (t *Time) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	if d, ok := parseDecimal(data); ok {
		t.Time = fromUnix(d)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
		t.Time = parsed.UTC()
	}
	return nil
}

func fromUnix(d decimal.Decimal) time.Time {
	if d.Sign() <= 0 {
		return time.Time{}
	}
	if d.GreaterThan(millisThreshold) {
		return time.UnixMilli(d.IntPart()).UTC()
	}
	return time.UnixMilli(d.Shift(3).IntPart()).UTC()
}

func parseDecimal(data []byte) (decimal.Decimal, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return decimal.Decimal{}, false
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return decimal.Decimal{}, false
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			return decimal.Decimal{}, false
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
