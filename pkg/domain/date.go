package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp. Blank, "none",
// "null" and malformed input report false.
func ParseDate(raw string) (Date, bool) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "none", "null":
		return Date{}, false
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return NewDate(t), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return NewDate(t), true
	}
	return Date{}, false
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	parsed, ok := ParseDate(raw)
	if !ok {
		return &time.ParseError{Layout: DateLayout, Value: raw, Message: ": invalid date"}
	}
	*d = parsed
	return nil
}
