package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/msull/misc/internal/audit"
	"github.com/msull/misc/internal/metrics"
	"github.com/msull/misc/internal/model"
	"github.com/msull/misc/internal/repository"
)

const tracerName = "github.com/msull/misc/internal/session"

type options struct {
	ttlAttr    string
	versioning bool
	tokenParam string
	now        func() time.Time
	metrics    *metrics.Session
	tracer     trace.Tracer
}

type Option func(*options)

// WithTTLAttribute names the item attribute that mirrors expires_at for
// store-side expiry. Empty disables it.
func WithTTLAttribute(name string) Option {
	return func(o *options) { o.ttlAttr = name }
}

// WithVersioning keeps one history row per persisted change.
func WithVersioning(enabled bool) Option {
	return func(o *options) { o.versioning = enabled }
}

// WithTokenParam overrides the query parameter carrying the resumption
// token. The default is the schema type name.
func WithTokenParam(param string) Option {
	return func(o *options) { o.tokenParam = param }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Session) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Manager resolves, creates and persists sessions of schema T for one page.
// It holds no per-connection state; every call names its Conn.
type Manager[T any, PT EntityPtr[T]] struct {
	repo       repository.RecordRepository
	kind       string
	token      Token
	ttlAttr    string
	versioning bool
	now        func() time.Time
	metrics    *metrics.Session
	tracer     trace.Tracer
}

// NewManager checks that T can be stored as a session and returns its
// manager. Schema problems surface here rather than on first use.
func NewManager[T any, PT EntityPtr[T]](repo repository.RecordRepository, opts ...Option) (*Manager[T, PT], error) {
	kind, err := schemaKind[T, PT]()
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("session manager %s: nil record repository", kind)
	}

	o := options{tokenParam: kind, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttlAttr == PayloadKey {
		return nil, fmt.Errorf("%w: ttl attribute %q collides with the session payload", ErrSchemaMismatch, o.ttlAttr)
	}
	if o.tokenParam == "" {
		return nil, fmt.Errorf("session manager %s: empty token parameter", kind)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return &Manager[T, PT]{
		repo:       repo,
		kind:       kind,
		token:      Token{Param: o.tokenParam},
		ttlAttr:    o.ttlAttr,
		versioning: o.versioning,
		now:        o.now,
		metrics:    o.metrics,
		tracer:     o.tracer,
	}, nil
}

func schemaKind[T any, PT EntityPtr[T]]() (string, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return "", fmt.Errorf("%w: %s is not a struct", ErrSchemaMismatch, typ)
	}
	if typ.Name() == "" {
		return "", fmt.Errorf("%w: anonymous struct types have no kind name", ErrSchemaMismatch)
	}

	raw, err := json.Marshal(PT(new(T)))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, typ.Name(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("%w: %s does not encode as a JSON object", ErrSchemaMismatch, typ.Name())
	}
	for _, reserved := range []string{fieldID, fieldExpiresAt} {
		if _, ok := fields[reserved]; ok {
			return "", fmt.Errorf("%w: %s declares reserved field %q", ErrSchemaMismatch, typ.Name(), reserved)
		}
	}
	return typ.Name(), nil
}

// Kind is the schema type name: the cache slot and record kind.
func (m *Manager[T, PT]) Kind() string { return m.kind }

// TokenParam is the query parameter carrying this schema's token.
func (m *Manager[T, PT]) TokenParam() string { return m.token.Param }

func (m *Manager[T, PT]) Versioning() bool { return m.versioning }

// Init resolves the session for this rerender. In order: a token naming a
// different session than the cached one clears the cache; a cached session
// is used as is; a token is looked up in the record store and stripped from
// the query when nothing live is stored under it; otherwise a new session
// is created with exp applied. The result is always written to the cache.
//
// A failed store read is returned as an error; the token is kept so the
// next rerender retries.
func (m *Manager[T, PT]) Init(ctx context.Context, conn *Conn, exp Expiration) (_ PT, err error) {
	ctx, span := m.start(ctx, "session.Init")
	defer func() { endSpan(span, err) }()

	if conn == nil || conn.Cache == nil {
		return nil, fmt.Errorf("init %s: no connection", m.kind)
	}
	now := m.now()
	expiresAt, err := exp.resolve(now)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("kind", m.kind).Str("conn_id", conn.ID).Logger()
	token := m.token.Read(conn.Query)

	if token != "" {
		if cached, ok := conn.Cache.Load(m.kind); ok && cached.ID() != token {
			logger.Info().Str("cached", cached.ID()).Str("token", token).Msg("token names another session, clearing cache")
			conn.Cache.Clear(m.kind)
		}
	}

	if cached, ok := conn.Cache.Load(m.kind); ok {
		e, err := decode[T, PT](cached)
		if err == nil {
			if err := m.install(conn, e); err != nil {
				return nil, err
			}
			m.metrics.Resolved(m.kind, metrics.SourceCache)
			span.SetAttributes(attribute.String("session.id", e.sessionBase().id), attribute.String("session.source", metrics.SourceCache))
			return e, nil
		}
		logger.Warn().Err(err).Msg("cached session does not match schema, dropping it")
		conn.Cache.Clear(m.kind)
	}

	if token != "" {
		e, err := m.load(ctx, token)
		if err != nil && !errors.Is(err, errUndecodable) {
			m.metrics.Resolved(m.kind, metrics.SourceError)
			return nil, err
		}
		if e != nil && !e.sessionBase().Expired(now) {
			if err := m.install(conn, e); err != nil {
				return nil, err
			}
			m.metrics.Resolved(m.kind, metrics.SourceStore)
			span.SetAttributes(attribute.String("session.id", token), attribute.String("session.source", metrics.SourceStore))
			logger.Debug().Str("session_id", token).Msg("loaded session from record store")
			return e, nil
		}

		reason := "missing"
		switch {
		case err != nil:
			reason = "undecodable"
		case e != nil:
			reason = "expired"
		}
		m.token.Strip(conn.Query)
		m.metrics.Resolved(m.kind, metrics.SourceStale)
		logger.Warn().Err(ErrStaleToken).Str("token", token).Str("reason", reason).Msg("stripped stale resumption token")
		audit.Log(ctx, audit.Event{
			Type:      audit.EventStaleToken,
			Kind:      m.kind,
			SessionID: token,
			ConnID:    conn.ID,
			Details:   map[string]interface{}{"reason": reason},
		})
	}

	e := PT(new(T))
	b := e.sessionBase()
	b.id = NewID(now)
	b.expiresAt = expiresAt
	if d, ok := any(e).(Defaulter); ok {
		d.ApplyDefaults()
	}
	if err := m.install(conn, e); err != nil {
		return nil, err
	}
	m.metrics.Resolved(m.kind, metrics.SourceNew)
	span.SetAttributes(attribute.String("session.id", b.id), attribute.String("session.source", metrics.SourceNew))
	logger.Info().Str("session_id", b.id).Str("expiration", exp.String()).Msg("started new session")
	return e, nil
}

// Persist writes e to the record store: created when absent, updated when
// it differs from the stored copy, left alone otherwise. On success the
// connection's token is pointed at e. conn may be nil for callers without a
// page URL.
func (m *Manager[T, PT]) Persist(ctx context.Context, conn *Conn, e PT) (err error) {
	ctx, span := m.start(ctx, "session.Persist", attribute.String("session.id", e.sessionBase().id))
	defer func() { endSpan(span, err) }()

	op, err := m.persist(ctx, e)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("session.write", op))
	m.metrics.Wrote(m.kind, op)

	if conn != nil {
		m.token.Write(conn.query(), e.sessionBase().id)
	}
	if op != metrics.OpNoop {
		event := audit.EventSessionPersist
		if op == metrics.OpCreate {
			event = audit.EventSessionCreate
		}
		audit.Log(ctx, audit.Event{
			Type:      event,
			Kind:      m.kind,
			SessionID: e.sessionBase().id,
			ConnID:    connID(conn),
			Details:   map[string]interface{}{"op": op},
		})
	}
	return nil
}

func (m *Manager[T, PT]) persist(ctx context.Context, e PT) (string, error) {
	id := e.sessionBase().id
	row := Row[PT]{Session: e, TTLAttr: m.ttlAttr, Versioning: m.versioning}

	existing, err := m.repo.GetExisting(ctx, m.kind, id)
	if err != nil {
		m.metrics.StoreError(m.kind, "get")
		return "", fmt.Errorf("persist %s/%s: %w", m.kind, id, err)
	}

	if existing == nil {
		_, err := m.repo.CreateNew(ctx, m.kind, row, id)
		if err == nil {
			return metrics.OpCreate, nil
		}
		if !errors.Is(err, repository.ErrAlreadyExists) {
			m.metrics.StoreError(m.kind, "create")
			return "", fmt.Errorf("persist %s/%s: %w", m.kind, id, err)
		}
		// lost a create race; compare against the winner
		existing, err = m.repo.GetExisting(ctx, m.kind, id)
		if err != nil || existing == nil {
			m.metrics.StoreError(m.kind, "get")
			return "", fmt.Errorf("persist %s/%s: %w", m.kind, id, repository.ErrConflict)
		}
	}

	same, err := m.sameAsStored(existing, e)
	if err != nil {
		return "", err
	}
	if same {
		return metrics.OpNoop, nil
	}
	if _, err := m.repo.UpdateExisting(ctx, existing, row); err != nil {
		m.metrics.StoreError(m.kind, "update")
		return "", fmt.Errorf("persist %s/%s: %w", m.kind, id, err)
	}
	return metrics.OpUpdate, nil
}

// sameAsStored compares e with the stored copy after both pass through the
// schema, so field order and dropped fields do not count as changes.
func (m *Manager[T, PT]) sameAsStored(stored *model.Record, e PT) (bool, error) {
	want, err := encode(e)
	if err != nil {
		return false, err
	}
	wantBytes, err := canonical(want)
	if err != nil {
		return false, err
	}

	fields, err := fieldsOf(stored.Item)
	if err != nil {
		return false, nil
	}
	prev, err := decode[T, PT](fields)
	if err != nil {
		return false, nil
	}
	have, err := encode(prev)
	if err != nil {
		return false, nil
	}
	haveBytes, err := canonical(have)
	if err != nil {
		return false, nil
	}
	return bytes.Equal(wantBytes, haveBytes), nil
}

// Get looks id up in the record store only. It returns (nil, nil) when no
// session is stored under id. Expired sessions are returned as stored.
func (m *Manager[T, PT]) Get(ctx context.Context, id string) (_ PT, err error) {
	ctx, span := m.start(ctx, "session.Get", attribute.String("session.id", id))
	defer func() { endSpan(span, err) }()

	return m.load(ctx, id)
}

var errUndecodable = errors.New("stored session does not match schema")

func (m *Manager[T, PT]) load(ctx context.Context, id string) (PT, error) {
	rec, err := m.repo.GetExisting(ctx, m.kind, id)
	if err != nil {
		m.metrics.StoreError(m.kind, "get")
		return nil, fmt.Errorf("get %s/%s: %w", m.kind, id, err)
	}
	if rec == nil {
		return nil, nil
	}
	return m.fromRecord(rec)
}

func (m *Manager[T, PT]) fromRecord(rec *model.Record) (PT, error) {
	fields, err := fieldsOf(rec.Item)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", errUndecodable, m.kind, rec.ID, err)
	}
	e, err := decode[T, PT](fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", errUndecodable, m.kind, rec.ID, err)
	}
	if e.sessionBase().id != rec.ID {
		return nil, fmt.Errorf("%w: %s/%s holds session %s", errUndecodable, m.kind, rec.ID, e.sessionBase().id)
	}
	return e, nil
}

// SetExpiration recomputes the expiry of e, writes it through to the cache
// and persists e. exp must be an absolute time or a duration; negative
// durations expire the session immediately.
func (m *Manager[T, PT]) SetExpiration(ctx context.Context, conn *Conn, e PT, exp Expiration) (err error) {
	ctx, span := m.start(ctx, "session.SetExpiration",
		attribute.String("session.id", e.sessionBase().id),
		attribute.String("session.expiration", exp.String()))
	defer func() { endSpan(span, err) }()

	if exp.IsZero() {
		return fmt.Errorf("%w: no expiration given", ErrInvalidExpiration)
	}
	expiresAt, err := exp.resolve(m.now())
	if err != nil {
		return err
	}

	b := e.sessionBase()
	previous := b.expiresAt
	b.expiresAt = expiresAt
	if err := Sync(e); err != nil {
		b.expiresAt = previous
		return err
	}
	if err := m.Persist(ctx, conn, e); err != nil {
		// the store still holds the old expiry
		b.expiresAt = previous
		if syncErr := Sync(e); syncErr != nil {
			log.Warn().Err(syncErr).Str("kind", m.kind).Str("session_id", b.id).Msg("failed to restore cached expiry")
		}
		return err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionExpire,
		Kind:      m.kind,
		SessionID: b.id,
		ConnID:    connID(conn),
		Details:   map[string]interface{}{"expires_at": expiresAt.String()},
	})
	return nil
}

// Clear empties this schema's cache slot on conn. Other schemas' slots and
// the URL are untouched.
func (m *Manager[T, PT]) Clear(conn *Conn) {
	if conn == nil || conn.Cache == nil {
		return
	}
	conn.Cache.Clear(m.kind)
}

// Switch loads id from the record store and makes it the active session of
// conn, pointing the token at it. A missing id is a caller error and
// returns ErrSessionNotFound with the cache untouched.
func (m *Manager[T, PT]) Switch(ctx context.Context, conn *Conn, id string) (_ PT, err error) {
	ctx, span := m.start(ctx, "session.Switch", attribute.String("session.id", id))
	defer func() { endSpan(span, err) }()

	if conn == nil || conn.Cache == nil {
		return nil, fmt.Errorf("switch %s: no connection", m.kind)
	}

	e, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("switch %s: %w: %s", m.kind, ErrSessionNotFound, id)
	}

	previous := ""
	if cached, ok := conn.Cache.Load(m.kind); ok {
		previous = cached.ID()
	}
	m.Clear(conn)
	if err := m.install(conn, e); err != nil {
		return nil, err
	}
	m.token.Write(conn.query(), id)

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionSwitch,
		Kind:      m.kind,
		SessionID: id,
		ConnID:    conn.ID,
		Details:   map[string]interface{}{"previous": previous},
	})
	return e, nil
}

// Record returns the raw current row stored for id, nil if absent.
func (m *Manager[T, PT]) Record(ctx context.Context, id string) (*model.Record, error) {
	return m.repo.GetExisting(ctx, m.kind, id)
}

// History decodes every stored version of id, oldest first. Without
// versioning this is the single current row.
func (m *Manager[T, PT]) History(ctx context.Context, id string) ([]PT, error) {
	rows, err := m.repo.ListVersions(ctx, m.kind, id)
	if err != nil {
		m.metrics.StoreError(m.kind, "list")
		return nil, fmt.Errorf("history %s/%s: %w", m.kind, id, err)
	}
	out := make([]PT, 0, len(rows))
	for i := range rows {
		e, err := m.fromRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// install binds e to conn's cache slot and saves it there.
func (m *Manager[T, PT]) install(conn *Conn, e PT) error {
	bind(e, conn.Cache, m.kind)
	return Sync(e)
}

func (m *Manager[T, PT]) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("session.kind", m.kind))
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func connID(conn *Conn) string {
	if conn == nil {
		return ""
	}
	return conn.ID
}
