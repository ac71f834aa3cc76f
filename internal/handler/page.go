package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/msull/misc/internal/errors"
	"github.com/msull/misc/internal/httputil"
	"github.com/msull/misc/internal/page"
)

// PageHandler serves rerenders over plain HTTP. The request URL query is
// the page URL state; the response carries the query the browser should
// show afterwards.
type PageHandler struct {
	catalog      *page.Catalog
	conns        *ConnRegistry
	isProduction bool
}

func NewPageHandler(catalog *page.Catalog, conns *ConnRegistry, isProduction bool) *PageHandler {
	return &PageHandler{catalog: catalog, conns: conns, isProduction: isProduction}
}

func (h *PageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{page}", h.Render)
	r.Post("/{page}", h.Render)
	return r
}

func (h *PageHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pages": h.catalog.Names()})
}

func (h *PageHandler) Render(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "page")
	p, ok := h.catalog.Lookup(name)
	if !ok {
		httputil.WriteError(w, apperrors.UnknownPage(name))
		return
	}

	ev := page.Event{Action: page.ActionRender}
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httputil.WriteError(w, apperrors.InvalidInput("event", err.Error()))
			return
		}
	}

	id := connID(w, r, h.isProduction)
	conn, release := h.conns.Acquire(id)
	defer release()

	conn.SetQuery(r.URL.Query())
	view, err := p.Render(r.Context(), conn, ev)
	if err != nil {
		writeError(w, "render", target{page: name, action: ev.Action, sessionID: ev.Param("id")}, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
