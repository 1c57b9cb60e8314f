package viewer

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hls-viewer/internal/registry"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	list *template.Template
	gate *template.Template
}

func mustParsePages() *pages {
	return &pages{
		list: template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/list.html")),
		gate: template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/gate.html")),
	}
}

type listPage struct {
	Streams []registry.Record
}

type gatePage struct {
	Stream registry.Record
	ViewID string
}

// StreamListPage handles GET /viewer/: the active streams.
func (h *Handler) StreamListPage(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.ListStreams(r.Context())
	if err != nil {
		h.log.Error("list streams failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	active := make([]registry.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.IsActive {
			active = append(active, rec)
		}
	}
	h.render(w, h.pages.list, listPage{Streams: active})
}

// StreamPage handles GET /viewer/gate/{id}/: one stream with its player. Each
// render gets its own view id, so two tabs never share a session.
func (h *Handler) StreamPage(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetStream(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.log.Error("get stream failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.render(w, h.pages.gate, gatePage{Stream: rec, ViewID: uuid.NewString()})
}

func (h *Handler) render(w http.ResponseWriter, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		h.log.Error("render page failed", slog.String("error", err.Error()))
	}
}
