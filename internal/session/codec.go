package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	fieldID        = "session_id"
	fieldExpiresAt = "expires_at"
)

var jsonNull = json.RawMessage("null")

// Fields is the flat encoded form of a session: the schema's JSON fields
// plus session_id and expires_at.
type Fields map[string]json.RawMessage

// ID returns the session_id held in f, or "" if absent or malformed.
func (f Fields) ID() string {
	var id string
	if raw, ok := f[fieldID]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	return id
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func encode(e Entity) (Fields, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode session: schema must encode as a JSON object: %w", err)
	}
	if fields == nil {
		fields = Fields{}
	}

	b := e.sessionBase()
	id, err := json.Marshal(b.id)
	if err != nil {
		return nil, err
	}
	fields[fieldID] = id
	fields[fieldExpiresAt] = jsonNull
	if b.expiresAt != nil {
		exp, err := b.expiresAt.MarshalJSON()
		if err != nil {
			return nil, err
		}
		fields[fieldExpiresAt] = exp
	}
	return fields, nil
}

// decode builds a detached entity from fields. Fields the schema does not
// declare are rejected unless the schema is Extensible.
func decode[T any, PT EntityPtr[T]](fields Fields) (PT, error) {
	id := fields.ID()
	if id == "" {
		return nil, fmt.Errorf("decode session: missing %s", fieldID)
	}

	var expiresAt *Timestamp
	if raw, ok := fields[fieldExpiresAt]; ok && !bytes.Equal(raw, jsonNull) {
		var ts Timestamp
		if err := ts.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("decode session %s: %s: %w", id, fieldExpiresAt, err)
		}
		expiresAt = &ts
	}

	rest := fields.clone()
	delete(rest, fieldID)
	delete(rest, fieldExpiresAt)
	data, err := json.Marshal(rest)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	e := PT(new(T))
	dec := json.NewDecoder(bytes.NewReader(data))
	if x, ok := any(e).(Extensible); !ok || !x.AllowsExtraFields() {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(e); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	b := e.sessionBase()
	b.id = id
	b.expiresAt = expiresAt
	return e, nil
}

// canonical returns a byte form of fields that is equal for equal sessions.
func canonical(fields Fields) ([]byte, error) {
	// map keys are sorted and raw values compacted by json.Marshal
	return json.Marshal(fields)
}
