package posindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Traccar отдаёт fixTime либо строкой ISO-8601, либо числом миллисекунд.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// FixTime decodes a tracker timestamp into a UTC instant.
type FixTime struct {
	time.Time
}

func (t *FixTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return errors.New("fixTime is missing")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.Wrap(err, "decode fixTime")
		}
		parsed, err := ParseISO(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return errors.Wrapf(err, "decode fixTime %s", string(b))
	}
	t.Time = FromEpochMillis(ms)
	return nil
}

// ParseISO parses an ISO-8601 timestamp. Values without an offset are taken as UTC.
func ParseISO(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed fixTime %q", s)
}

func FromEpochMillis(ms float64) time.Time {
	sec := int64(ms / 1000)
	nsec := int64((ms - float64(sec)*1000) * float64(time.Millisecond))
	return time.Unix(sec, nsec).UTC()
}
