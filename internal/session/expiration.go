package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/msull/misc/internal/model"
)

type expirationKind int

const (
	expNone expirationKind = iota
	expAt
	expIn
)

// Expiration is an absolute expiry time or one relative to the moment it is
// applied. The zero value means no expiration.
type Expiration struct {
	kind expirationKind
	at   time.Time
	in   time.Duration
}

// NoExpiration creates sessions that never expire.
var NoExpiration = Expiration{}

func ExpireAt(t time.Time) Expiration {
	return Expiration{kind: expAt, at: t}
}

// ExpireIn expires d after the expiration is applied. Negative durations
// are allowed and produce an already expired session.
func ExpireIn(d time.Duration) Expiration {
	return Expiration{kind: expIn, in: d}
}

func (x Expiration) IsZero() bool {
	return x.kind == expNone
}

func (x Expiration) String() string {
	switch x.kind {
	case expAt:
		return x.at.UTC().Format(time.RFC3339)
	case expIn:
		return x.in.String()
	default:
		return "none"
	}
}

// resolve turns x into a timestamp relative to now. NoExpiration resolves
// to nil.
func (x Expiration) resolve(now time.Time) (*Timestamp, error) {
	var at time.Time
	switch x.kind {
	case expNone:
		return nil, nil
	case expAt:
		if x.at.IsZero() {
			return nil, fmt.Errorf("%w: zero time", ErrInvalidExpiration)
		}
		at = x.at
	case expIn:
		at = now.Add(x.in)
	default:
		return nil, ErrInvalidExpiration
	}
	ts, err := model.NewTimestamp(at)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}
	return &ts, nil
}

// ParseExpiration reads an RFC 3339 time, a fixed-point unix timestamp such
// as "1700000000.5", or a Go duration such as "1h" or "-5m".
func ParseExpiration(s string) (Expiration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Expiration{}, fmt.Errorf("%w: empty value", ErrInvalidExpiration)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return ExpireAt(t), nil
	}
	if ts, err := model.ParseTimestamp(s); err == nil {
		return ExpireAt(ts.Time()), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return ExpireIn(d), nil
	}
	return Expiration{}, fmt.Errorf("%w: %q", ErrInvalidExpiration, s)
}
