package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
}

// ParseTimestamp accepts ISO-8601 variants, US county-record dates and unix
// seconds/milliseconds. Values without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

// TimeField reads a time out of an open payload map. It accepts time.Time
// values and any string ParseTimestamp understands.
func TimeField(payload map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok || v == nil {
			continue
		}
		switch tv := v.(type) {
		case time.Time:
			if !tv.IsZero() {
				return tv.UTC(), true
			}
		case string:
			if ts, err := ParseTimestamp(tv, time.UTC); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// StringField returns the first non-empty string-ish value among keys.
func StringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch tv := v.(type) {
		case string:
			s = tv
		case fmt.Stringer:
			s = tv.String()
		case float64:
			s = strconv.FormatFloat(tv, 'f', -1, 64)
		case int:
			s = strconv.Itoa(tv)
		case int64:
			s = strconv.FormatInt(tv, 10)
		case bool:
			s = strconv.FormatBool(tv)
		default:
			s = fmt.Sprint(tv)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
