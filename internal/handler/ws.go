package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/msull/misc/internal/config"
	apperrors "github.com/msull/misc/internal/errors"
	"github.com/msull/misc/internal/httputil"
	"github.com/msull/misc/internal/page"
	"github.com/msull/misc/internal/session"
)

const wsPingPeriod = config.WSReadTimeout * 9 / 10

// wsRequest is one client message: an event for a page, optionally after
// replacing the URL state.
type wsRequest struct {
	Page   string            `json:"page"`
	Action string            `json:"action,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Query  *string           `json:"query,omitempty"`
}

type wsResponse struct {
	Seq   uint64                  `json:"seq"`
	View  *page.View              `json:"view,omitempty"`
	Error *httputil.ErrorResponse `json:"error,omitempty"`
}

// WSHandler runs pages over a websocket. Each socket is one browser
// connection with its own cache; its events are rerendered strictly in
// arrival order.
type WSHandler struct {
	catalog  *page.Catalog
	conns    *ConnRegistry
	upgrader websocket.Upgrader
}

func NewWSHandler(catalog *page.Catalog, conns *ConnRegistry) *WSHandler {
	return &WSHandler{
		catalog: catalog,
		conns:   conns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	conn, release := h.conns.Acquire(id)
	conn.SetQuery(r.URL.Query())

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s := &wsSocket{
		ws:      ws,
		conn:    conn,
		catalog: h.catalog,
		inbox:   newInbox(config.WSMaxPendingEvents),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  log.With().Str("conn_id", id).Logger(),
	}

	s.logger.Info().Msg("websocket connected")
	defer func() {
		close(s.done)
		cancel()
		<-s.stopped
		release()
		h.conns.Drop(id)
		ws.Close()
		s.logger.Info().Msg("websocket closed")
	}()

	go s.eventLoop(ctx)
	go s.pingLoop()
	s.readLoop()
}

type wsSocket struct {
	ws      *websocket.Conn
	conn    *session.Conn
	catalog *page.Catalog
	inbox   *inbox
	logger  zerolog.Logger

	writeMu sync.Mutex
	seq     uint64
	done    chan struct{}
	stopped chan struct{}
}

func (s *wsSocket) readLoop() {
	s.ws.SetReadLimit(config.WSMaxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(config.WSReadTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(config.WSReadTimeout))
	})

	for {
		_, msg, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		s.ws.SetReadDeadline(time.Now().Add(config.WSReadTimeout))

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendError(0, apperrors.InvalidInput("message", err.Error()))
			continue
		}

		if !s.inbox.push(req) {
			s.logger.Warn().Int("pending", config.WSMaxPendingEvents).Msg("event queue full, closing websocket")
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many pending events"),
				time.Now().Add(config.WSWriteTimeout))
			return
		}
	}
}

// eventLoop is the only goroutine touching the connection cache.
func (s *wsSocket) eventLoop(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-s.inbox.notify:
		}
		for {
			req, ok := s.inbox.pop()
			if !ok {
				break
			}
			s.handle(ctx, req)
		}
	}
}

func (s *wsSocket) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *wsSocket) handle(ctx context.Context, req wsRequest) {
	s.seq++
	seq := s.seq

	if req.Query != nil {
		q, err := url.ParseQuery(*req.Query)
		if err != nil {
			s.sendError(seq, apperrors.InvalidInput("query", err.Error()))
			return
		}
		s.conn.SetQuery(q)
	}

	p, ok := s.catalog.Lookup(req.Page)
	if !ok {
		s.sendError(seq, apperrors.UnknownPage(req.Page))
		return
	}

	ev := page.Event{Action: req.Action, Params: req.Params}
	view, err := p.Render(ctx, s.conn, ev)
	if err != nil {
		s.sendError(seq, toAppError("render", target{page: req.Page, action: req.Action, sessionID: ev.Param("id")}, err))
		return
	}
	s.send(wsResponse{Seq: seq, View: view})
}

func (s *wsSocket) sendError(seq uint64, appErr *apperrors.AppError) {
	s.send(wsResponse{Seq: seq, Error: &httputil.ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}})
}

func (s *wsSocket) send(resp wsResponse) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.ws.SetWriteDeadline(time.Now().Add(config.WSWriteTimeout))
	if err := s.ws.WriteJSON(resp); err != nil {
		s.logger.Debug().Err(err).Msg("websocket write failed")
	}
}

// inbox is the FIFO of events waiting for the event loop.
type inbox struct {
	mu     sync.Mutex
	events *queue.Queue
	max    int
	notify chan struct{}
}

func newInbox(max int) *inbox {
	return &inbox{events: queue.New(), max: max, notify: make(chan struct{}, 1)}
}

func (b *inbox) push(req wsRequest) bool {
	b.mu.Lock()
	if b.events.Length() >= b.max {
		b.mu.Unlock()
		return false
	}
	b.events.Add(req)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

func (b *inbox) pop() (wsRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events.Length() == 0 {
		return wsRequest{}, false
	}
	return b.events.Remove().(wsRequest), true
}
