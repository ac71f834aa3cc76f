package session

import "errors"

var (
	// ErrInvalidExpiration is returned for an expiration that is neither an
	// absolute time nor a relative duration. Nothing is written.
	ErrInvalidExpiration = errors.New("expiration must be an absolute time or a duration")
	// ErrSessionNotFound is returned by Switch when the target id is not in
	// the record store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSchemaMismatch is returned by NewManager for entity types that
	// cannot be stored as a session.
	ErrSchemaMismatch = errors.New("entity type is not a valid session schema")
	// ErrStaleToken marks a resumption token whose session no longer exists.
	// Init recovers from it and only logs it.
	ErrStaleToken = errors.New("resumption token names no live session")
)
