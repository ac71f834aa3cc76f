package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CurrentVersion is the version key of the row holding the latest payload.
// Versioned records additionally keep one history row per revision.
const CurrentVersion = 0

// Item is the stored payload of a record: a flat JSON object whose values
// are kept encoded so that extra scalar attributes (a TTL field) can ride
// along without touching the schema of the wrapped value.
type Item map[string]json.RawMessage

// Resource is anything the record store can persist.
type Resource interface {
	// Item returns the payload to store. current is true for the row that
	// holds the latest state and false for an immutable history row.
	Item(current bool) (Item, error)
	// Versioned reports whether every write should also be kept as history.
	Versioned() bool
}

type Record struct {
	Kind      string    `db:"kind" json:"kind"`
	ID        string    `db:"id" json:"id"`
	Version   int       `db:"version" json:"version"`
	Revision  int       `db:"revision" json:"revision"`
	Versioned bool      `db:"versioned" json:"versioned"`
	Item      Item      `db:"payload" json:"item"`
	ExpiresAt *int64    `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// IsCurrent reports whether r is the latest-state row rather than history.
func (r *Record) IsCurrent() bool {
	return r.Version == CurrentVersion
}

// Expiry reads attr as a fixed-point unix timestamp and returns it in whole
// seconds. It returns nil when attr is empty, absent or null.
func (it Item) Expiry(attr string) (*int64, error) {
	if attr == "" {
		return nil, nil
	}
	raw, ok := it[attr]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var ts Timestamp
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("ttl attribute %q: %w", attr, err)
	}
	secs := ts.Time().Unix()
	return &secs, nil
}

// Clone returns a shallow copy; the raw values are never mutated in place.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func (it Item) Value() (driver.Value, error) {
	if it == nil {
		return "{}", nil
	}
	b, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (it *Item) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*it = Item{}
		return nil
	default:
		return fmt.Errorf("scan item: unsupported type %T", src)
	}
	var out Item
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("scan item: %w", err)
	}
	*it = out
	return nil
}
