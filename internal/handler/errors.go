package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/msull/misc/internal/errors"
	"github.com/msull/misc/internal/httputil"
	"github.com/msull/misc/internal/page"
	"github.com/msull/misc/internal/repository"
	"github.com/msull/misc/internal/session"
)

// target names what a failed request was acting on.
type target struct {
	page      string
	action    string
	sessionID string
}

// toAppError maps a rerender or admin failure onto a client error.
func toAppError(op string, t target, err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return apperrors.SessionNotFound(t.sessionID)
	case errors.Is(err, session.ErrInvalidExpiration):
		return apperrors.InvalidExpiration(err.Error())
	case errors.Is(err, page.ErrUnknownAction):
		return apperrors.UnknownAction(t.page, t.action)
	case errors.Is(err, page.ErrMissingParam):
		return apperrors.New(apperrors.ErrCodeMissingRequired, err.Error())
	case errors.Is(err, repository.ErrConflict):
		return apperrors.Conflict("session was changed concurrently, retry").WithCause(err)
	case errors.Is(err, session.ErrSchemaMismatch):
		return apperrors.SchemaMismatch("stored session does not match its schema").WithCause(err)
	default:
		log.Error().Err(err).Str("op", op).Str("page", t.page).Msg("session store failure")
		return apperrors.Store(op, err)
	}
}

func writeError(w http.ResponseWriter, op string, t target, err error) {
	httputil.WriteError(w, toAppError(op, t, err))
}
