package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreate     EventType = "session_create"
	EventSessionPersist    EventType = "session_persist"
	EventSessionExpire     EventType = "session_expire"
	EventSessionSwitch     EventType = "session_switch"
	EventStaleToken        EventType = "stale_token"
	EventAdminLoginFailure EventType = "admin_login_failure"
	EventAdminInvalidate   EventType = "admin_invalidate"
)

type Event struct {
	Type      EventType
	Kind      string
	SessionID string
	ConnID    string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "session").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With().Str("request_id", reqID).Logger()
	}
	if event.Kind != "" {
		logger = logger.With().Str("kind", event.Kind).Logger()
	}
	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.ConnID != "" {
		logger = logger.With().Str("conn_id", event.ConnID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("session audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
