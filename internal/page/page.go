// Package page runs dashboard pages. Each page is a script executed from
// the top on every rerender: it resolves its sessions, applies one user
// event and returns a view. Nothing survives between rerenders except the
// connection cache, the record store and the URL query.
package page

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msull/misc/internal/metrics"
	"github.com/msull/misc/internal/repository"
	"github.com/msull/misc/internal/session"
)

// ActionRender is the no-op event sent for a plain page load.
const ActionRender = "render"

var (
	ErrUnknownAction = errors.New("unknown page action")
	ErrMissingParam  = errors.New("missing event parameter")
)

// Event is one user interaction that triggered a rerender.
type Event struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

func (e Event) Param(name string) string {
	return e.Params[name]
}

func (e Event) require(name string) (string, error) {
	v := e.Params[name]
	if v == "" {
		return "", fmt.Errorf("%w: %s needs %q", ErrMissingParam, e.Action, name)
	}
	return v, nil
}

// View is the result of one rerender. Query is the page URL query after the
// rerender, carrying the resumption tokens of every session on the page.
type View struct {
	Page   string `json:"page"`
	Query  string `json:"query"`
	Data   any    `json:"data"`
	Notice string `json:"notice,omitempty"`
}

type Page interface {
	Name() string
	// Kind is the session schema the page owns.
	Kind() string
	Render(ctx context.Context, conn *session.Conn, ev Event) (*View, error)
	// Expire changes the expiry of a stored session outside any connection.
	Expire(ctx context.Context, id string, exp session.Expiration) error
}

// Deps are the shared collaborators pages build their session managers on.
type Deps struct {
	Records        repository.RecordRepository
	TTLAttribute   string
	Versioning     bool
	// ChatExpiration defaults to ChatDefaultExpiration when zero.
	ChatExpiration time.Duration
	Metrics        *metrics.Session
	Now            func() time.Time
}

func (d Deps) options(extra ...session.Option) []session.Option {
	opts := []session.Option{session.WithMetrics(d.Metrics)}
	if d.Now != nil {
		opts = append(opts, session.WithClock(d.Now))
	}
	return append(opts, extra...)
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func newView(name string, conn *session.Conn, data any) *View {
	return &View{Page: name, Query: conn.Query.Encode(), Data: data}
}

// expireStored loads id and sets its expiry without touching any cache.
func expireStored[T any, PT session.EntityPtr[T]](ctx context.Context, m *session.Manager[T, PT], id string, exp session.Expiration) error {
	e, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("expire %s: %w: %s", m.Kind(), session.ErrSessionNotFound, id)
	}
	return m.SetExpiration(ctx, nil, e, exp)
}

// parseExpiration reads an "in" duration or an "at" timestamp from ev.
func parseExpiration(ev Event) (session.Expiration, error) {
	if in := ev.Param("in"); in != "" {
		d, err := time.ParseDuration(in)
		if err != nil {
			return session.Expiration{}, fmt.Errorf("%w: %v", session.ErrInvalidExpiration, err)
		}
		return session.ExpireIn(d), nil
	}
	if at := ev.Param("at"); at != "" {
		return session.ParseExpiration(at)
	}
	return session.Expiration{}, fmt.Errorf("%w: %s needs \"in\" or \"at\"", ErrMissingParam, ev.Action)
}
