package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const microsPerSecond = 1_000_000

// ErrTimestampRange is returned for times that do not fit a Timestamp.
var ErrTimestampRange = errors.New("timestamp out of range")

var (
	minTimestampTime = time.UnixMicro(math.MinInt64)
	maxTimestampTime = time.UnixMicro(math.MaxInt64)
)

// Timestamp is a fixed-point unix timestamp with microsecond resolution.
// It encodes as a JSON number with exactly six fractional digits and is
// parsed without going through float64, so values survive any number of
// encode/decode round trips unchanged.
type Timestamp int64

// TimestampOf converts t, which must lie within the range NewTimestamp
// accepts.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// NewTimestamp converts t, rejecting times more than about 292,000 years
// from the epoch.
func NewTimestamp(t time.Time) (Timestamp, error) {
	if t.Before(minTimestampTime) || t.After(maxTimestampTime) {
		return 0, fmt.Errorf("%w: %s", ErrTimestampRange, t.UTC().Format(time.RFC3339))
	}
	return Timestamp(t.UnixMicro()), nil
}

func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

func (ts Timestamp) String() string {
	v := int64(ts)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%06d", sign, v/microsPerSecond, v%microsPerSecond)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(ts.String()), nil
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// ParseTimestamp parses a decimal unix timestamp such as "1700000000.25".
// Digits past the sixth fractional place are truncated.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse timestamp: empty value")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("parse timestamp: no digits")
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("parse timestamp: invalid number %q", s)
	}

	var secs int64
	if whole != "" {
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp: %w", err)
		}
		secs = v
	}

	if len(frac) > 6 {
		frac = frac[:6]
	}
	frac += strings.Repeat("0", 6-len(frac))
	micros, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp: %w", err)
	}

	if secs > (math.MaxInt64-micros)/microsPerSecond {
		return 0, fmt.Errorf("parse timestamp: %w: %s", ErrTimestampRange, s)
	}
	total := secs*microsPerSecond + micros
	if negative {
		total = -total
	}
	return Timestamp(total), nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
