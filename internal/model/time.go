package model

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// zoneless is how the backend writes local clinic times.
const zoneless = "2006-01-02T15:04:05.9999999"

// Zone is the clinic location used for timestamps sent without an offset.
// Set once at startup.
var Zone = time.Local

// Time is a backend timestamp. Values with an offset keep it, values without
// one are read in Zone and written back without one.
type Time struct {
	time.Time
	zoned bool
}

func At(t time.Time) Time { return Time{Time: t.In(Zone)} }

func ParseTime(s string) (Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Time{Time: t, zoned: true}, nil
	}
	t, err := time.ParseInLocation(zoneless, s, Zone)
	if err != nil {
		return Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return Time{Time: t}, nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Time{}
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("bad timestamp %s", b)
	}
	if s == "" {
		*t = Time{}
		return nil
	}
	v, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	if t.zoned {
		return []byte(strconv.Quote(t.Format(time.RFC3339Nano))), nil
	}
	return []byte(strconv.Quote(t.In(Zone).Format("2006-01-02T15:04:05"))), nil
}
