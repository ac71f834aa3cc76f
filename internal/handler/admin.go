package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/msull/misc/internal/audit"
	apperrors "github.com/msull/misc/internal/errors"
	"github.com/msull/misc/internal/httputil"
	"github.com/msull/misc/internal/page"
	"github.com/msull/misc/internal/registry"
	"github.com/msull/misc/internal/repository"
	"github.com/msull/misc/internal/session"
)

// AdminHandler exposes stored sessions and shared singletons to operators.
// Authentication is applied by the router.
type AdminHandler struct {
	records  repository.RecordRepository
	catalog  *page.Catalog
	registry *registry.Registry
}

func NewAdminHandler(records repository.RecordRepository, catalog *page.Catalog, reg *registry.Registry) *AdminHandler {
	return &AdminHandler{records: records, catalog: catalog, registry: reg}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Records
	r.Get("/records/{kind}/{id}", h.GetRecord)
	r.Get("/records/{kind}/{id}/versions", h.ListVersions)
	r.Post("/records/sweep", h.Sweep)

	// Sessions
	r.Post("/sessions/{page}/{id}/expiration", h.SetExpiration)

	// Shared singletons
	r.Get("/registry", h.RegistryStatus)
	r.Post("/registry/invalidate", h.Invalidate)

	return r
}

func (h *AdminHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")

	rec, err := h.records.GetExisting(r.Context(), kind, id)
	if err != nil {
		writeError(w, "get", target{sessionID: id}, err)
		return
	}
	if rec == nil {
		httputil.WriteError(w, apperrors.SessionNotFound(id))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *AdminHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")

	rows, err := h.records.ListVersions(r.Context(), kind, id)
	if err != nil {
		writeError(w, "list", target{sessionID: id}, err)
		return
	}
	if len(rows) == 0 {
		httputil.WriteError(w, apperrors.SessionNotFound(id))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": rows,
		"total": len(rows),
	})
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.records.DeleteExpired(r.Context())
	if err != nil {
		writeError(w, "sweep", target{}, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *AdminHandler) SetExpiration(w http.ResponseWriter, r *http.Request) {
	name, id := chi.URLParam(r, "page"), chi.URLParam(r, "id")
	p, ok := h.catalog.Lookup(name)
	if !ok {
		httputil.WriteError(w, apperrors.UnknownPage(name))
		return
	}

	var req struct {
		Expiration string `json:"expiration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}
	if req.Expiration == "" {
		httputil.WriteError(w, apperrors.MissingRequired("expiration"))
		return
	}
	exp, err := session.ParseExpiration(req.Expiration)
	if err != nil {
		httputil.WriteError(w, apperrors.InvalidExpiration(err.Error()))
		return
	}

	if err := p.Expire(r.Context(), id, exp); err != nil {
		writeError(w, "expire", target{page: name, sessionID: id}, err)
		return
	}

	rec, err := h.records.GetExisting(r.Context(), p.Kind(), id)
	if err != nil {
		writeError(w, "get", target{page: name, sessionID: id}, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *AdminHandler) RegistryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.registry.Status()})
}

func (h *AdminHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Names []string `json:"names"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}

	done := h.registry.Invalidate(req.Names...)
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventAdminInvalidate,
		Details: map[string]interface{}{"names": done},
	})
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": done})
}
