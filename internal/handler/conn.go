package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/msull/misc/internal/config"
	"github.com/msull/misc/internal/metrics"
	"github.com/msull/misc/internal/session"
)

type connEntry struct {
	mu       sync.Mutex
	conn     *session.Conn
	lastSeen time.Time
	// waiting counts Acquire calls between the registry lookup and taking
	// mu. Guarded by ConnRegistry.mu.
	waiting int
}

// ConnRegistry holds the ephemeral cache of every live browser connection.
// HTTP rerenders find theirs by cookie; websocket connections register for
// the lifetime of the socket.
type ConnRegistry struct {
	mu      sync.Mutex
	conns   map[string]*connEntry
	idle    time.Duration
	now     func() time.Time
	metrics *metrics.Session
}

func NewConnRegistry(idle time.Duration, m *metrics.Session) *ConnRegistry {
	return &ConnRegistry{
		conns:   make(map[string]*connEntry),
		idle:    idle,
		now:     time.Now,
		metrics: m,
	}
}

// Acquire returns the connection for id, creating an empty one if needed,
// and locks it. Rerenders of one connection run one at a time; the caller
// must call release.
func (r *ConnRegistry) Acquire(id string) (conn *session.Conn, release func()) {
	r.mu.Lock()
	entry, ok := r.conns[id]
	if !ok {
		entry = &connEntry{conn: session.NewConn(id, nil)}
		r.conns[id] = entry
		r.metrics.SetActiveConns(len(r.conns))
	}
	entry.waiting++
	r.mu.Unlock()

	entry.mu.Lock()
	r.mu.Lock()
	entry.waiting--
	r.mu.Unlock()
	return entry.conn, func() {
		entry.lastSeen = r.now()
		entry.mu.Unlock()
	}
}

// Drop forgets id and its cache.
func (r *ConnRegistry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	r.metrics.SetActiveConns(len(r.conns))
}

func (r *ConnRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sweep drops connections idle for longer than the idle timeout. A
// connection in the middle of a rerender, or about to start one, is never
// dropped.
func (r *ConnRegistry) Sweep(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	var dropped int64
	for id, entry := range r.conns {
		if err := ctx.Err(); err != nil {
			return dropped, err
		}
		if entry.waiting > 0 || !entry.mu.TryLock() {
			continue
		}
		if !entry.lastSeen.IsZero() && entry.lastSeen.Before(cutoff) {
			delete(r.conns, id)
			dropped++
		}
		entry.mu.Unlock()
	}
	if dropped > 0 {
		log.Debug().Int64("dropped", dropped).Msg("dropped idle connections")
	}
	r.metrics.SetActiveConns(len(r.conns))
	return dropped, nil
}

// connID reads the connection cookie, issuing a new id when it is missing
// or malformed.
func connID(w http.ResponseWriter, r *http.Request, secure bool) string {
	if c, err := r.Cookie(config.ConnCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     config.ConnCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
