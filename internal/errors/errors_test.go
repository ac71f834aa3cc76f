package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeSessionNotFound, "Session abc not found")
		assert.Equal(t, "SESSION_NOT_FOUND: Session abc not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeStore, "Record store error", cause)
		assert.Contains(t, err.Error(), "STORE_ERROR")
		assert.Contains(t, err.Error(), "Record store error")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "expiration", "reason": "not a duration"}
		err := New(ErrCodeInvalidInput, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"SessionNotFound", func() *AppError { return SessionNotFound("20240101000000abcdef") }, ErrCodeSessionNotFound},
		{"UnknownPage", func() *AppError { return UnknownPage("reports") }, ErrCodeUnknownPage},
		{"UnknownAction", func() *AppError { return UnknownAction("chat", "dance") }, ErrCodeUnknownAction},
		{"Conflict", func() *AppError { return Conflict("revision changed") }, ErrCodeConflict},
		{"InvalidInput", func() *AppError { return InvalidInput("kind", "empty") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("id") }, ErrCodeMissingRequired},
		{"InvalidExpiration", func() *AppError { return InvalidExpiration("zero time") }, ErrCodeInvalidExpiration},
		{"SchemaMismatch", func() *AppError { return SchemaMismatch("not a struct") }, ErrCodeSchemaMismatch},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestStore(t *testing.T) {
	t.Run("wraps record store error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := Store("get", cause)
		assert.Equal(t, ErrCodeStore, err.Code)
		assert.Contains(t, err.Message, "get")
		assert.ErrorIs(t, err, cause)
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeSessionNotFound, "Session abc not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestSessionNotFoundMessage(t *testing.T) {
	t.Run("formats resource name correctly", func(t *testing.T) {
		err := SessionNotFound("abc")
		assert.Equal(t, "Session abc not found", err.Message)
	})
}

func TestMissingRequiredMessage(t *testing.T) {
	t.Run("formats field name correctly", func(t *testing.T) {
		err := MissingRequired("id")
		assert.Equal(t, "id is required", err.Message)

		err = MissingRequired("expiration")
		assert.Equal(t, "expiration is required", err.Message)
	})
}
