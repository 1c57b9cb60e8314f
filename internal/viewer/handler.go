package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hls-viewer/internal/registry"
	"hls-viewer/internal/validation"
)

// maxWait bounds GET /forms/{id}?wait=true.
const maxWait = 15 * time.Second

// Handler exposes the viewer HTTP endpoints using go-chi.
type Handler struct {
	svc            *Service
	log            *slog.Logger
	trustForwarded bool
	checkLimit     func(http.Handler) http.Handler
	pages          *pages
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithForwardedProto makes X-Forwarded-Proto: https count as a secure page
// origin. Enable only behind a proxy that sets the header.
func WithForwardedProto(trust bool) HandlerOption {
	return func(h *Handler) { h.trustForwarded = trust }
}

// WithCheckLimit wraps the routes that trigger outbound fetches.
func WithCheckLimit(mw func(http.Handler) http.Handler) HandlerOption {
	return func(h *Handler) { h.checkLimit = mw }
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		svc:        svc,
		log:        log,
		checkLimit: func(next http.Handler) http.Handler { return next },
		pages:      mustParsePages(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers every viewer route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/streams", func(r chi.Router) {
		r.Get("/", h.ListStreams)
		r.With(h.checkLimit).Post("/", h.CreateStream)
		r.Get("/{id}", h.GetStream)
		r.With(h.checkLimit).Patch("/{id}", h.UpdateStream)
		r.Delete("/{id}", h.DeleteStream)
	})

	r.With(h.checkLimit).Post("/validate", h.Validate)

	r.Route("/forms", func(r chi.Router) {
		r.Post("/", h.OpenForm)
		r.Get("/{id}", h.GetForm)
		r.With(h.checkLimit).Put("/{id}/input", h.FormInput)
		r.Post("/{id}/submit", h.SubmitForm)
		r.Delete("/{id}", h.CloseForm)
	})

	r.Route("/views/{id}", func(r chi.Router) {
		r.Get("/", h.GetView)
		r.Delete("/", h.CloseView)
		r.With(h.checkLimit).Post("/load", h.LoadView)
		r.Post("/events", h.ReportEvent)
		r.Post("/dismiss", h.DismissNotification)
	})

	r.Get("/viewer/", h.StreamListPage)
	r.Get("/viewer/gate/{id}/", h.StreamPage)
}

// secureOrigin reports whether the page that sent r was served over HTTPS.
func (h *Handler) secureOrigin(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return h.trustForwarded && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.ListStreams(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if recs == nil {
		recs = []registry.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetStream handles GET /streams/{id}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetStream(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateStream handles POST /streams.
// Body: { "name": "Big Buck Bunny", "url": "https://...m3u8", "override": false }.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var in StreamInput
	if !h.decode(w, r, &in) {
		return
	}
	rec, _, err := h.svc.CreateStream(r.Context(), in, h.secureOrigin(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type updateBody struct {
	registry.Fields
	Override bool `json:"override"`
}

// UpdateStream handles PATCH /streams/{id}.
func (h *Handler) UpdateStream(w http.ResponseWriter, r *http.Request) {
	var in updateBody
	if !h.decode(w, r, &in) {
		return
	}
	rec, _, err := h.svc.UpdateStream(r.Context(), chi.URLParam(r, "id"), in.Fields, in.Override, h.secureOrigin(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteStream handles DELETE /streams/{id}.
func (h *Handler) DeleteStream(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteStream(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type urlBody struct {
	URL string `json:"url"`
}

// Validate handles POST /validate. The check outcome is always 200; only a
// bad request body is an error.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var in urlBody
	if !h.decode(w, r, &in) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Validate(r.Context(), in.URL, h.secureOrigin(r)))
}

// OpenForm handles POST /forms.
func (h *Handler) OpenForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.svc.OpenForm(h.secureOrigin(r)))
}

// GetForm handles GET /forms/{id}. With ?wait=true it holds the request until
// the current input's check is done.
func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	ctx, cancel := context.WithTimeout(r.Context(), maxWait)
	defer cancel()

	fv, err := h.svc.FormState(ctx, chi.URLParam(r, "id"), wait)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fv)
}

// FormInput handles PUT /forms/{id}/input. Body: { "url": "..." }.
func (h *Handler) FormInput(w http.ResponseWriter, r *http.Request) {
	var in urlBody
	if !h.decode(w, r, &in) {
		return
	}
	fv, err := h.svc.FormInput(chi.URLParam(r, "id"), in.URL)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, fv)
}

// SubmitForm handles POST /forms/{id}/submit.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	var in SubmitInput
	if !h.decode(w, r, &in) {
		return
	}
	rec, err := h.svc.SubmitForm(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CloseForm handles DELETE /forms/{id}.
func (h *Handler) CloseForm(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CloseForm(chi.URLParam(r, "id")) {
		h.fail(w, ErrFormNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LoadView handles POST /views/{id}/load.
// Body: { "stream_id": "..." } or { "url": "...", "override": true }.
func (h *Handler) LoadView(w http.ResponseWriter, r *http.Request) {
	var in LoadInput
	if !h.decode(w, r, &in) {
		return
	}
	if in.StreamID == "" && strings.TrimSpace(in.URL) == "" {
		writeError(w, http.StatusBadRequest, "stream_id or url is required", nil)
		return
	}
	vs, _, err := h.svc.LoadView(r.Context(), chi.URLParam(r, "id"), in, h.secureOrigin(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

// ReportEvent handles POST /views/{id}/events from the page's player.
func (h *Handler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	var ev PlayerEvent
	if !h.decode(w, r, &ev) {
		return
	}
	vs, err := h.svc.ReportEvent(chi.URLParam(r, "id"), ev)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

// GetView handles GET /views/{id}.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	vs, err := h.svc.View(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

// DismissNotification handles POST /views/{id}/dismiss.
func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	vs, err := h.svc.DismissNotification(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

// CloseView handles DELETE /views/{id}.
func (h *Handler) CloseView(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CloseView(chi.URLParam(r, "id")) {
		h.fail(w, ErrViewNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

// fail maps a service error to a response.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		writeError(w, http.StatusUnprocessableEntity, rejected.Reason, rejected.Result)
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, ErrFormNotFound),
		errors.Is(err, ErrViewNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, registry.ErrDuplicateOrInvalid),
		errors.Is(err, ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ErrSessionMismatch):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		h.log.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

type errorBody struct {
	Error  string             `json:"error"`
	Result *validation.Result `json:"result,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, res *validation.Result) {
	writeJSON(w, status, errorBody{Error: msg, Result: res})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
