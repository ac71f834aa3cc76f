package page

import (
	"context"
	"fmt"
	"time"

	"github.com/msull/misc/internal/model"
	"github.com/msull/misc/internal/session"
)

const (
	SettingsPageName          = "settings"
	SettingsDefaultExpiration = 30 * time.Second
	defaultSomeSetting        = "test"
)

// SettingsSession holds per-user page settings. Every rerender persists it,
// and every write is kept as history.
type SettingsSession struct {
	session.Base
	SomeSetting string `json:"some_setting"`
}

func (s *SettingsSession) ApplyDefaults() {
	if s.SomeSetting == "" {
		s.SomeSetting = defaultSomeSetting
	}
}

// SettingsView includes a debug dump: the stored row without its payload,
// every stored version and the connection cache.
type SettingsView struct {
	SessionID   string                    `json:"session_id"`
	ExpiresIn   string                    `json:"expires_in,omitempty"`
	SomeSetting string                    `json:"some_setting"`
	Record      *model.Record             `json:"record,omitempty"`
	History     []string                  `json:"history"`
	Cache       map[string]session.Fields `json:"cache"`
}

type Settings struct {
	sessions *session.Manager[SettingsSession, *SettingsSession]
	now      func() time.Time
}

func NewSettings(deps Deps) (*Settings, error) {
	m, err := session.NewManager[SettingsSession](deps.Records, deps.options(
		session.WithTTLAttribute(deps.TTLAttribute),
		session.WithVersioning(true),
	)...)
	if err != nil {
		return nil, fmt.Errorf("settings page: %w", err)
	}
	return &Settings{sessions: m, now: deps.now}, nil
}

func (p *Settings) Name() string { return SettingsPageName }

func (p *Settings) Kind() string { return p.sessions.Kind() }

func (p *Settings) Render(ctx context.Context, conn *session.Conn, ev Event) (*View, error) {
	s, err := p.sessions.Init(ctx, conn, session.ExpireIn(SettingsDefaultExpiration))
	if err != nil {
		return nil, err
	}

	notice := ""
	switch ev.Action {
	case "", ActionRender:
	case "set":
		value, err := ev.require("value")
		if err != nil {
			return nil, err
		}
		if err := session.Update(s, func(s *SettingsSession) { s.SomeSetting = value }); err != nil {
			return nil, err
		}
		notice = "setting updated"
	case "expire":
		exp, err := parseExpiration(ev)
		if err != nil {
			return nil, err
		}
		if err := p.sessions.SetExpiration(ctx, conn, s, exp); err != nil {
			return nil, err
		}
		notice = "expiration updated"
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, SettingsPageName, ev.Action)
	}

	if err := p.sessions.Persist(ctx, conn, s); err != nil {
		return nil, err
	}

	data, err := p.debug(ctx, conn, s)
	if err != nil {
		return nil, err
	}
	view := newView(SettingsPageName, conn, data)
	view.Notice = notice
	return view, nil
}

func (p *Settings) debug(ctx context.Context, conn *session.Conn, s *SettingsSession) (SettingsView, error) {
	rec, err := p.sessions.Record(ctx, s.ID())
	if err != nil {
		return SettingsView{}, err
	}
	if rec != nil {
		stripped := *rec
		stripped.Item = rec.Item.Clone()
		delete(stripped.Item, session.PayloadKey)
		rec = &stripped
	}

	versions, err := p.sessions.History(ctx, s.ID())
	if err != nil {
		return SettingsView{}, err
	}
	history := make([]string, 0, len(versions))
	for _, v := range versions {
		history = append(history, v.SomeSetting)
	}

	return SettingsView{
		SessionID:   s.ID(),
		ExpiresIn:   s.ExpiresIn(p.now()),
		SomeSetting: s.SomeSetting,
		Record:      rec,
		History:     history,
		Cache:       conn.Cache.Snapshot(),
	}, nil
}

func (p *Settings) Expire(ctx context.Context, id string, exp session.Expiration) error {
	return expireStored(ctx, p.sessions, id, exp)
}
