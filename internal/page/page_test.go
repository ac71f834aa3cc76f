package page

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msull/misc/internal/database"
	"github.com/msull/misc/internal/repository"
	"github.com/msull/misc/internal/session"
)

type testEnv struct {
	deps Deps
	repo repository.RecordRepository
	now  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Connect(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		repo: repository.NewSQLRecordRepository(db, "ttl"),
		now:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	env.deps = Deps{
		Records:      env.repo,
		TTLAttribute: "ttl",
		Now:          func() time.Time { return env.now },
	}
	return env
}

type echoResponder struct{}

func (echoResponder) Reply(ctx context.Context, history []Message) (string, error) {
	return "echo: " + history[len(history)-1].Content, nil
}

func render(t *testing.T, p Page, conn *session.Conn, action string, params map[string]string) *View {
	t.Helper()
	view, err := p.Render(context.Background(), conn, Event{Action: action, Params: params})
	require.NoError(t, err)
	return view
}

func connFrom(t *testing.T, id string, query string) *session.Conn {
	t.Helper()
	q, err := url.ParseQuery(query)
	require.NoError(t, err)
	return session.NewConn(id, q)
}

func TestChatPage(t *testing.T) {
	env := newTestEnv(t)
	chat, err := NewChat(env.deps, echoResponder{})
	require.NoError(t, err)
	assert.Equal(t, "ChatSession", chat.Kind())

	conn := session.NewConn("c1", nil)

	first := render(t, chat, conn, ActionRender, nil)
	data := first.Data.(ChatView)
	assert.Equal(t, "expires in 1 hour", data.ExpiresIn)
	assert.Empty(t, first.Query, "an unsaved session has no token")

	view := render(t, chat, conn, "say", map[string]string{"text": "hi"})
	data = view.Data.(ChatView)
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "echo: hi"}}, data.Messages)

	view = render(t, chat, conn, "save", nil)
	assert.Equal(t, "chat saved", view.Notice)
	id := data.SessionID
	assert.Equal(t, "ChatSession="+id, view.Query)

	t.Run("another connection resumes from the link", func(t *testing.T) {
		other := connFrom(t, "c2", view.Query)
		got := render(t, chat, other, "", nil).Data.(ChatView)
		assert.Equal(t, id, got.SessionID)
		assert.Len(t, got.Messages, 2)
	})

	t.Run("unsaved messages stay in the connection", func(t *testing.T) {
		render(t, chat, conn, "say", map[string]string{"text": "draft"})
		assert.Len(t, render(t, chat, conn, "", nil).Data.(ChatView).Messages, 4)

		other := connFrom(t, "c3", view.Query)
		assert.Len(t, render(t, chat, other, "", nil).Data.(ChatView).Messages, 2)
	})

	t.Run("clear reloads the stored copy", func(t *testing.T) {
		got := render(t, chat, conn, "clear", nil)
		assert.Len(t, got.Data.(ChatView).Messages, 2)
		assert.Equal(t, id, got.Data.(ChatView).SessionID)
	})

	t.Run("new starts over and drops the token", func(t *testing.T) {
		other := connFrom(t, "c4", view.Query)
		env.now = env.now.Add(time.Second)
		got := render(t, chat, other, "new", nil)
		assert.NotEqual(t, id, got.Data.(ChatView).SessionID)
		assert.Empty(t, got.Data.(ChatView).Messages)
		assert.Empty(t, got.Query)
	})

	t.Run("switch loads another stored session", func(t *testing.T) {
		other := session.NewConn("c5", nil)
		render(t, chat, other, "", nil)
		got := render(t, chat, other, "switch", map[string]string{"id": id})
		assert.Equal(t, id, got.Data.(ChatView).SessionID)
		assert.Equal(t, "ChatSession="+id, got.Query)
	})

	t.Run("switch to a missing session fails", func(t *testing.T) {
		_, err := chat.Render(context.Background(), conn, Event{Action: "switch", Params: map[string]string{"id": "nope"}})
		assert.ErrorIs(t, err, session.ErrSessionNotFound)

		_, err = chat.Render(context.Background(), conn, Event{Action: "switch"})
		assert.ErrorIs(t, err, ErrMissingParam)
	})

	t.Run("bad events", func(t *testing.T) {
		_, err := chat.Render(context.Background(), conn, Event{Action: "dance"})
		assert.ErrorIs(t, err, ErrUnknownAction)

		_, err = chat.Render(context.Background(), conn, Event{Action: "say", Params: map[string]string{"text": "  "}})
		assert.ErrorIs(t, err, ErrMissingParam)

		_, err = chat.Render(context.Background(), conn, Event{Action: "expire", Params: map[string]string{"in": "soon"}})
		assert.ErrorIs(t, err, session.ErrInvalidExpiration)
	})

	t.Run("expiring the session makes its link stale", func(t *testing.T) {
		got := render(t, chat, conn, "expire", map[string]string{"in": "-1s"})
		assert.Equal(t, "expired 1 second ago", got.Data.(ChatView).ExpiresIn)

		other := connFrom(t, "c6", view.Query)
		fresh := render(t, chat, other, "", nil)
		assert.NotEqual(t, id, fresh.Data.(ChatView).SessionID)
		assert.Empty(t, fresh.Query)
	})
}

func TestChatPageWithoutResponder(t *testing.T) {
	env := newTestEnv(t)
	chat, err := NewChat(env.deps, nil)
	require.NoError(t, err)

	got := render(t, chat, session.NewConn("c1", nil), "say", map[string]string{"text": "hi"})
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}}, got.Data.(ChatView).Messages)
}

func TestSettingsPage(t *testing.T) {
	env := newTestEnv(t)
	settings, err := NewSettings(env.deps)
	require.NoError(t, err)
	conn := session.NewConn("c1", nil)

	view := render(t, settings, conn, "", nil)
	data := view.Data.(SettingsView)
	assert.Equal(t, "test", data.SomeSetting)
	assert.Equal(t, "expires in 30 seconds", data.ExpiresIn)
	assert.Equal(t, "SettingsSession="+data.SessionID, view.Query, "every rerender persists")
	assert.Equal(t, []string{"test"}, data.History)
	require.NotNil(t, data.Record)
	assert.NotContains(t, data.Record.Item, session.PayloadKey)
	assert.Contains(t, data.Record.Item, "ttl")
	assert.Contains(t, data.Cache, "SettingsSession")

	view = render(t, settings, conn, "set", map[string]string{"value": "dark"})
	data = view.Data.(SettingsView)
	assert.Equal(t, "dark", data.SomeSetting)
	assert.Equal(t, []string{"test", "dark"}, data.History)

	view = render(t, settings, conn, "", nil)
	assert.Equal(t, []string{"test", "dark"}, view.Data.(SettingsView).History, "unchanged rerenders do not add versions")

	_, err = settings.Render(context.Background(), conn, Event{Action: "set"})
	assert.ErrorIs(t, err, ErrMissingParam)

	_, err = settings.Render(context.Background(), conn, Event{Action: "say"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestPagesShareOneURL(t *testing.T) {
	env := newTestEnv(t)
	catalog, err := Default(env.deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "settings"}, catalog.Names())

	chat, ok := catalog.Lookup("chat")
	require.True(t, ok)
	settings, ok := catalog.Lookup("settings")
	require.True(t, ok)
	_, ok = catalog.Lookup("missing")
	assert.False(t, ok)

	conn := session.NewConn("c1", url.Values{"tab": {"debug"}})
	chatID := render(t, chat, conn, "save", nil).Data.(ChatView).SessionID
	view := render(t, settings, conn, "", nil)
	settingsID := view.Data.(SettingsView).SessionID

	q, err := url.ParseQuery(view.Query)
	require.NoError(t, err)
	assert.Equal(t, chatID, q.Get("ChatSession"))
	assert.Equal(t, settingsID, q.Get("SettingsSession"))
	assert.Equal(t, "debug", q.Get("tab"))
	assert.ElementsMatch(t, []string{"ChatSession", "SettingsSession"}, conn.Cache.Keys())
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	a, err := NewChat(env.deps, nil)
	require.NoError(t, err)
	b, err := NewChat(env.deps, nil)
	require.NoError(t, err)

	_, err = NewCatalog(a, b)
	assert.Error(t, err)
}

func TestPageExpire(t *testing.T) {
	env := newTestEnv(t)
	chat, err := NewChat(env.deps, nil)
	require.NoError(t, err)
	ctx := context.Background()

	err = chat.Expire(ctx, "missing", session.ExpireIn(time.Hour))
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	id := render(t, chat, session.NewConn("c1", nil), "save", nil).Data.(ChatView).SessionID
	require.NoError(t, chat.Expire(ctx, id, session.ExpireIn(2*time.Hour)))

	rec, err := env.repo.GetExisting(ctx, "ChatSession", id)
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, env.now.Add(2*time.Hour).Unix(), *rec.ExpiresAt)

	err = chat.Expire(ctx, id, session.NoExpiration)
	assert.ErrorIs(t, err, session.ErrInvalidExpiration)
}
