package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/msull/misc/internal/errors"
)

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func exchange(t *testing.T, ws *websocket.Conn, req wsRequest) wsResponse {
	t.Helper()
	require.NoError(t, ws.WriteJSON(req))
	return readResponse(t, ws)
}

func readResponse(t *testing.T, ws *websocket.Conn) wsResponse {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp wsResponse
	require.NoError(t, ws.ReadJSON(&resp))
	return resp
}

func viewData(t *testing.T, resp wsResponse) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.View)
	data, ok := resp.View.Data.(map[string]any)
	require.True(t, ok)
	return data
}

func TestWSHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ws := dialWS(t, srv, "tab=chat")

	first := exchange(t, ws, wsRequest{Page: "chat"})
	assert.Equal(t, uint64(1), first.Seq)
	id := viewData(t, first)["session_id"].(string)
	assert.Equal(t, "tab=chat", first.View.Query)
	assert.Equal(t, 1, ts.conns.Len())

	t.Run("events are handled in order", func(t *testing.T) {
		for _, text := range []string{"one", "two", "three"} {
			require.NoError(t, ws.WriteJSON(wsRequest{Page: "chat", Action: "say", Params: map[string]string{"text": text}}))
		}
		var last wsResponse
		for i := 0; i < 3; i++ {
			last = readResponse(t, ws)
			assert.Equal(t, uint64(2+i), last.Seq)
		}
		data := viewData(t, last)
		assert.Equal(t, id, data["session_id"])
		msgs := data["messages"].([]any)
		require.Len(t, msgs, 3)
		assert.Equal(t, "three", msgs[2].(map[string]any)["content"])
	})

	t.Run("save writes the token into the query", func(t *testing.T) {
		resp := exchange(t, ws, wsRequest{Page: "chat", Action: "save"})
		assert.Contains(t, resp.View.Query, "ChatSession="+id)
		assert.Contains(t, resp.View.Query, "tab=chat")
	})

	t.Run("navigation replaces the query", func(t *testing.T) {
		query := ""
		resp := exchange(t, ws, wsRequest{Page: "settings", Query: &query})
		assert.NotContains(t, resp.View.Query, "ChatSession")
		assert.Contains(t, resp.View.Query, "SettingsSession=")
	})

	t.Run("errors keep the socket open", func(t *testing.T) {
		resp := exchange(t, ws, wsRequest{Page: "nope"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, apperrors.ErrCodeUnknownPage, resp.Error.Code)

		resp = exchange(t, ws, wsRequest{Page: "chat", Action: "switch", Params: map[string]string{"id": "missing"}})
		require.NotNil(t, resp.Error)
		assert.Equal(t, apperrors.ErrCodeSessionNotFound, resp.Error.Code)

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{")))
		resp = readResponse(t, ws)
		assert.Zero(t, resp.Seq)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, resp.Error.Code)

		resp = exchange(t, ws, wsRequest{Page: "chat"})
		assert.Equal(t, id, viewData(t, resp)["session_id"], "the cache survives errors")
	})

	t.Run("a second socket resumes from the token", func(t *testing.T) {
		other := dialWS(t, srv, "ChatSession="+id)
		resp := exchange(t, other, wsRequest{Page: "chat"})
		data := viewData(t, resp)
		assert.Equal(t, id, data["session_id"])
		assert.Len(t, data["messages"], 3)
	})

	ws.Close()
	assert.Eventually(t, func() bool { return ts.conns.Len() <= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestInbox(t *testing.T) {
	b := newInbox(2)

	assert.True(t, b.push(wsRequest{Page: "a"}))
	assert.True(t, b.push(wsRequest{Page: "b"}))
	assert.False(t, b.push(wsRequest{Page: "c"}), "full")

	select {
	case <-b.notify:
	default:
		t.Fatal("push did not notify")
	}

	req, ok := b.pop()
	require.True(t, ok)
	assert.Equal(t, "a", req.Page)
	req, ok = b.pop()
	require.True(t, ok)
	assert.Equal(t, "b", req.Page)
	_, ok = b.pop()
	assert.False(t, ok)
}
