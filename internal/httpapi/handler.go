// Package httpapi implements the HTTP handlers for the discovery service.
//
// All routes expect an x-user-id header forwarded by the Gateway, except
// POST /analyze which persists nothing.
//
// Routes:
//
//	POST   /discovery/start          → start a discovery job (202 when async)
//	GET    /discovery/{id}           → job status with top candidates
//	DELETE /discovery/{id}           → delete a job, keeping its candidates
//	POST   /analyze                  → score one or more profiles ad hoc
//	GET    /candidates?status=       → list candidates, best score first
//	GET    /candidates/{id}          → one candidate
//	POST   /candidates/{id}/move     → move to a new pipeline stage
//	POST   /candidates/{id}/note     → add/update free-text note
//	GET    /stats                    → dashboard aggregate
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"newface/discovery-service/internal/discovery"
	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/pipeline"
	"newface/discovery-service/internal/scoring"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Scorer rates profiles without persisting them.
type Scorer interface {
	Score(ctx context.Context, req scoring.Request) scoring.Result
	ScoreBatch(ctx context.Context, reqs []scoring.Request) []scoring.Result
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	discovery *discovery.Service
	pipeline  *pipeline.Service
	scorer    Scorer
	log       *slog.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(disc *discovery.Service, pipe *pipeline.Service, scorer Scorer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{discovery: disc, pipeline: pipe, scorer: scorer, log: log}
}

// RegisterRoutes mounts all discovery-service routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/discovery/start", h.startDiscovery)
	r.Get("/discovery/{id}", h.getDiscovery)
	r.Delete("/discovery/{id}", h.deleteDiscovery)

	r.Post("/analyze", h.analyze)

	r.Get("/candidates", h.listCandidates)
	r.Get("/candidates/{id}", h.getCandidate)
	r.Post("/candidates/{id}/move", h.moveCandidate)
	r.Post("/candidates/{id}/note", h.addNote)

	r.Get("/stats", h.stats)
}

// NewRouter returns a chi router with recovery, request ids and access
// logging, with the handler's routes mounted.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(h.log))
	h.RegisterRoutes(r)
	return r
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) startDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req discovery.StartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	summary, err := h.discovery.Start(r.Context(), userID, req)
	if err != nil {
		h.writeErr(w, "startDiscovery", err)
		return
	}
	if req.Async {
		jsonStatus(w, http.StatusAccepted, summary)
		return
	}
	jsonOK(w, summary)
}

func (h *Handler) getDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.discovery.Status(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, "getDiscovery", err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) deleteDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.discovery.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, "deleteDiscovery", err)
		return
	}
	jsonOK(w, map[string]bool{"success": true})
}

func (h *Handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	cands, err := h.pipeline.List(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		h.writeErr(w, "listCandidates", err)
		return
	}
	jsonOK(w, cands)
}

func (h *Handler) getCandidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	c, err := h.pipeline.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, "getCandidate", err)
		return
	}
	jsonOK(w, c)
}

func (h *Handler) moveCandidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		NewStatus string `json:"newStatus"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.NewStatus == "" {
		jsonError(w, "newStatus is required", http.StatusBadRequest)
		return
	}
	c, err := h.pipeline.Move(r.Context(), userID, chi.URLParam(r, "id"), body.NewStatus)
	if err != nil {
		h.writeErr(w, "moveCandidate", err)
		return
	}
	jsonOK(w, c)
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	c, err := h.pipeline.AddNote(r.Context(), userID, chi.URLParam(r, "id"), body.Note)
	if err != nil {
		h.writeErr(w, "addNote", err)
		return
	}
	jsonOK(w, c)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	st, err := h.pipeline.Stats(r.Context(), userID)
	if err != nil {
		h.writeErr(w, "stats", err)
		return
	}
	jsonOK(w, st)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeErr maps service errors to HTTP status codes. Unexpected errors are
// logged and reported without detail.
func (h *Handler) writeErr(w http.ResponseWriter, op string, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrConflict):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("request failed", "op", op, "err", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	jsonStatus(w, http.StatusOK, v)
}

func jsonStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}
