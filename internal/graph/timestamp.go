package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Historical createdAt encodings, tried in order after the numeric form.
// Zone-less layouts are read as UTC.
var timestampLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{time.RFC3339, true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04:05", false},
}

// ParseTimestamp decodes a createdAt value. Numbers are seconds since the
// Unix epoch (the format written today); strings go through the layout chain.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	if raw[0] != '"' {
		var secs float64
		if err := json.Unmarshal(raw, &secs); err != nil {
			return time.Time{}, fmt.Errorf("timestamp %s: %w", raw, err)
		}
		return timeFromUnix(secs), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("timestamp %s: %w", raw, err)
	}
	return parseTimestampString(s)
}

func parseTimestampString(s string) (time.Time, error) {
	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, time.UTC)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp is the canonical encoding: seconds since the Unix epoch,
// kept to microseconds. A float64 cannot hold nanoseconds at current epoch
// values, so anything finer is rounded away.
func FormatTimestamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	t = t.Round(time.Microsecond)
	return float64(t.Unix()) + float64(t.Nanosecond()/1e3)/1e6
}

func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
}
