package page

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/msull/misc/internal/session"
)

const (
	ChatPageName          = "chat"
	ChatDefaultExpiration = time.Hour
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSession is the conversation shown on the chat page.
type ChatSession struct {
	session.Base
	Messages []Message `json:"messages"`
}

// Responder produces the assistant's reply to a conversation. A nil
// Responder records user messages only.
type Responder interface {
	Reply(ctx context.Context, history []Message) (string, error)
}

type ChatView struct {
	SessionID string    `json:"session_id"`
	ExpiresIn string    `json:"expires_in,omitempty"`
	Messages  []Message `json:"messages"`
}

type Chat struct {
	sessions  *session.Manager[ChatSession, *ChatSession]
	responder Responder
	expire    time.Duration
	now       func() time.Time
}

func NewChat(deps Deps, responder Responder) (*Chat, error) {
	m, err := session.NewManager[ChatSession](deps.Records, deps.options(
		session.WithTTLAttribute(deps.TTLAttribute),
		session.WithVersioning(deps.Versioning),
	)...)
	if err != nil {
		return nil, fmt.Errorf("chat page: %w", err)
	}
	expire := deps.ChatExpiration
	if expire <= 0 {
		expire = ChatDefaultExpiration
	}
	return &Chat{sessions: m, responder: responder, expire: expire, now: deps.now}, nil
}

func (p *Chat) Name() string { return ChatPageName }

func (p *Chat) Kind() string { return p.sessions.Kind() }

func (p *Chat) Render(ctx context.Context, conn *session.Conn, ev Event) (*View, error) {
	s, err := p.sessions.Init(ctx, conn, session.ExpireIn(p.expire))
	if err != nil {
		return nil, err
	}

	notice := ""
	switch ev.Action {
	case "", ActionRender:
	case "say":
		text := strings.TrimSpace(ev.Param("text"))
		if text == "" {
			return nil, fmt.Errorf("%w: say needs \"text\"", ErrMissingParam)
		}
		if err := session.Update(s, func(s *ChatSession) {
			s.Messages = append(s.Messages, Message{Role: "user", Content: text})
		}); err != nil {
			return nil, err
		}
		if p.responder != nil {
			reply, err := p.responder.Reply(ctx, s.Messages)
			if err != nil {
				log.Warn().Err(err).Str("session_id", s.ID()).Msg("chat responder failed")
				notice = "assistant unavailable"
				break
			}
			if err := session.Update(s, func(s *ChatSession) {
				s.Messages = append(s.Messages, Message{Role: "assistant", Content: reply})
			}); err != nil {
				return nil, err
			}
		}
	case "save":
		if err := p.sessions.Persist(ctx, conn, s); err != nil {
			return nil, err
		}
		notice = "chat saved"
	case "expire":
		exp, err := parseExpiration(ev)
		if err != nil {
			return nil, err
		}
		if err := p.sessions.SetExpiration(ctx, conn, s, exp); err != nil {
			return nil, err
		}
		notice = "expiration updated"
	case "switch":
		id, err := ev.require("id")
		if err != nil {
			return nil, err
		}
		if s, err = p.sessions.Switch(ctx, conn, id); err != nil {
			return nil, err
		}
		notice = "switched to " + id
	case "clear":
		// drops unsaved changes; the token reloads the stored copy
		p.sessions.Clear(conn)
		if s, err = p.sessions.Init(ctx, conn, session.ExpireIn(p.expire)); err != nil {
			return nil, err
		}
		notice = "unsaved changes discarded"
	case "new":
		p.sessions.Clear(conn)
		session.Token{Param: p.sessions.TokenParam()}.Strip(conn.Query)
		if s, err = p.sessions.Init(ctx, conn, session.ExpireIn(p.expire)); err != nil {
			return nil, err
		}
		notice = "started a new chat"
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, ChatPageName, ev.Action)
	}

	view := newView(ChatPageName, conn, ChatView{
		SessionID: s.ID(),
		ExpiresIn: s.ExpiresIn(p.now()),
		Messages:  s.Messages,
	})
	view.Notice = notice
	return view, nil
}

func (p *Chat) Expire(ctx context.Context, id string, exp session.Expiration) error {
	return expireStored(ctx, p.sessions, id, exp)
}
