package session

import (
	"encoding/json"
	"fmt"

	"github.com/msull/misc/internal/model"
)

// PayloadKey is the item attribute holding the encoded session.
const PayloadKey = "session"

// Row is the storage form of a session: the encoded entity under "session"
// plus, when configured, the TTL attribute the store expires rows by.
type Row[E Entity] struct {
	Session    E
	TTLAttr    string
	Versioning bool
}

var _ model.Resource = Row[*Base]{}

// Item builds the payload of the current row (current true) or of a
// history row. History rows of versioned records never carry the TTL
// attribute; they are removed together with their current row.
func (r Row[E]) Item(current bool) (model.Item, error) {
	fields, err := encode(r.Session)
	if err != nil {
		return nil, err
	}
	data, err := canonical(fields)
	if err != nil {
		return nil, err
	}
	item := model.Item{PayloadKey: data}

	b := r.Session.sessionBase()
	if r.TTLAttr != "" && b.expiresAt != nil && (!r.Versioning || current) {
		ttl, err := b.expiresAt.MarshalJSON()
		if err != nil {
			return nil, err
		}
		item[r.TTLAttr] = ttl
	}
	return item, nil
}

func (r Row[E]) Versioned() bool {
	return r.Versioning
}

// fieldsOf extracts the encoded session from a stored item.
func fieldsOf(item model.Item) (Fields, error) {
	raw, ok := item[PayloadKey]
	if !ok {
		return nil, fmt.Errorf("stored item has no %q attribute", PayloadKey)
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("stored session: %w", err)
	}
	return fields, nil
}
