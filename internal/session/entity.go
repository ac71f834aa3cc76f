package session

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/msull/misc/internal/model"
)

// Timestamp is the fixed-point expiry type stored on every session.
type Timestamp = model.Timestamp

// Base carries the identity and expiry every session schema shares. Embed
// it by value in the schema struct:
//
//	type ChatSession struct {
//		session.Base
//		Messages []Message `json:"messages"`
//	}
//
// Its fields are unexported so that the id never changes after creation and
// the expiry only changes through Manager.SetExpiration.
type Base struct {
	id        string
	expiresAt *Timestamp

	// cache slot the entity writes through to; nil when detached
	cache *Cache
	kind  string
}

func (b *Base) sessionBase() *Base { return b }

func (b *Base) ID() string { return b.id }

// ExpiresAt returns a copy of the expiry, nil if the session never expires.
func (b *Base) ExpiresAt() *Timestamp {
	if b.expiresAt == nil {
		return nil
	}
	ts := *b.expiresAt
	return &ts
}

// Expired reports whether the expiry is set and not after now.
func (b *Base) Expired(now time.Time) bool {
	return b.expiresAt != nil && !b.expiresAt.Time().After(now)
}

// Bound reports whether mutations write through to a connection cache.
func (b *Base) Bound() bool { return b.cache != nil }

// ExpiresIn renders the expiry relative to now: "expires in 1 hour",
// "expired 5 minutes ago", or "" when unset.
func (b *Base) ExpiresIn(now time.Time) string {
	if b.expiresAt == nil {
		return ""
	}
	delta := b.expiresAt.Time().Sub(now).Round(time.Second)
	switch {
	case delta > 0:
		return "expires in " + relative(now, delta)
	case delta < 0:
		return "expired " + relative(now, -delta) + " ago"
	default:
		return "expires now"
	}
}

func relative(now time.Time, d time.Duration) string {
	return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}

// Entity is any struct embedding Base.
type Entity interface {
	sessionBase() *Base
}

// EntityPtr constrains a schema type parameter to pointers of structs that
// embed Base.
type EntityPtr[T any] interface {
	*T
	Entity
}

// Extensible schemas accept fields they do not declare when decoding.
type Extensible interface {
	AllowsExtraFields() bool
}

// Defaulter schemas fill in field defaults on freshly created sessions.
type Defaulter interface {
	ApplyDefaults()
}

// Update applies fn to e and writes the result through to the cache slot e
// is bound to. This is the mutation path for page code; assigning fields
// directly and skipping Sync loses the change on the next rerender.
func Update[E Entity](e E, fn func(E)) error {
	fn(e)
	return Sync(e)
}

// Sync saves all fields of e into its cache slot. Detached entities are
// left alone.
func Sync(e Entity) error {
	b := e.sessionBase()
	if b.cache == nil {
		return nil
	}
	fields, err := encode(e)
	if err != nil {
		return err
	}
	b.cache.Save(b.kind, fields)
	return nil
}

func bind(e Entity, cache *Cache, kind string) {
	b := e.sessionBase()
	b.cache = cache
	b.kind = kind
}
