// Package api exposes two HTTP surfaces: the local control plane under
// /api/v1 (submit, list, content, history, events) and, when a provider key
// is configured, the relay surface under /api that other instances can point
// at instead of the provider.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sorabox/sorabox/internal/blob"
	"github.com/sorabox/sorabox/internal/gateway"
	"github.com/sorabox/sorabox/internal/history"
	"github.com/sorabox/sorabox/internal/job"
	"github.com/sorabox/sorabox/internal/metrics"
	"github.com/sorabox/sorabox/internal/tracker"
)

// Handler holds the dependencies for the control-plane handlers.
type Handler struct {
	tracker *tracker.Tracker
	store   history.Store
	hub     *tracker.Hub
}

func NewHandler(tr *tracker.Tracker, store history.Store, hub *tracker.Hub) *Handler {
	return &Handler{tracker: tr, store: store, hub: hub}
}

// RegisterRoutes registers the control-plane routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/videos", h.CreateVideo)
	mux.HandleFunc("GET /api/v1/videos", h.ListVideos)
	mux.HandleFunc("GET /api/v1/videos/{id}", h.GetVideo)
	mux.HandleFunc("DELETE /api/v1/videos/{id}", h.DeleteVideo)
	mux.HandleFunc("POST /api/v1/videos/{id}/remix", h.RemixVideo)
	mux.HandleFunc("GET /api/v1/videos/{id}/content", h.VideoContent)
	mux.HandleFunc("DELETE /api/v1/videos", h.ClearHistory)
	mux.HandleFunc("GET /api/v1/history", h.ListHistory)
	mux.HandleFunc("POST /api/v1/auth", h.SetCredential)
	mux.HandleFunc("GET /api/v1/events", h.StreamEvents)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())
}

// CreateVideo handles POST /api/v1/videos and responds 202 with the
// placeholder job; the provider-assigned id arrives over the event stream.
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	var req job.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	j, err := h.tracker.SubmitCreate(r.Context(), req)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

// RemixVideo handles POST /api/v1/videos/{id}/remix.
func (h *Handler) RemixVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req job.RemixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.SourceID = r.PathValue("id")

	j, err := h.tracker.SubmitRemix(r.Context(), req)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrCredentialRequired):
		writeError(w, http.StatusUnauthorized, "credential required")
	case errors.Is(err, gateway.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, "credential rejected")
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ListVideos handles GET /api/v1/videos and responds with the live set in
// submission order.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	jobs := h.tracker.Jobs()
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// GetVideo handles GET /api/v1/videos/{id}: the live snapshot when the job is
// still tracked, its history entry otherwise.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if j, ok := h.tracker.Get(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{"job": j, "live": true})
		return
	}

	entry, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry, "live": false})
}

// DeleteVideo handles DELETE /api/v1/videos/{id}. The force query parameter
// skips the provider and removes local state only.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	force := r.URL.Query().Get("force") == "true"

	switch err := h.tracker.Delete(r.Context(), id, force); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, gateway.ErrStillProcessing):
		// The client may retry with force=true to drop local state anyway.
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            "video is still being processed",
			"still_processing": true,
		})
	default:
		writeError(w, http.StatusInternalServerError, "failed to delete job")
	}
}

// VideoContent handles GET /api/v1/videos/{id}/content. Depending on how the
// content resolves this streams local bytes, redirects to the relay, or 404s.
func (h *Handler) VideoContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	variant := blob.VariantVideo
	switch r.URL.Query().Get("variant") {
	case "thumbnail":
		variant = blob.VariantThumbnail
	case "spritesheet":
		variant = blob.VariantSpritesheet
	}

	src, err := h.tracker.Resolve(r.Context(), id, variant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve content")
		return
	}
	if src == nil {
		writeError(w, http.StatusNotFound, "content not available")
		return
	}
	if src.RedirectURL != "" {
		http.Redirect(w, r, src.RedirectURL, http.StatusFound)
		return
	}

	defer src.Reader.Close()
	w.Header().Set("Content-Type", src.ContentType)
	if variant == blob.VariantVideo && src.Filename != "" {
		w.Header().Set("Content-Disposition", `inline; filename="`+src.Filename+`"`)
	}
	io.Copy(w, src.Reader) //nolint:errcheck
}

// ListHistory handles GET /api/v1/history with limit/offset pagination,
// newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 50)
	offset := parseIntParam(r.URL.Query().Get("offset"), 0)

	entries, total, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if entries == nil {
		entries = []*history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// ClearHistory handles DELETE /api/v1/videos: every entry, stored artifact
// and live job is dropped. Destructive enough to demand explicit confirmation.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "pass confirm=true to clear all history")
		return
	}
	if err := h.tracker.ClearHistory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetCredential handles POST /api/v1/auth: installs a new secret (API key in
// direct mode, password in relay mode) and verifies it immediately.
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret   string `json:"secret"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	secret := req.Secret
	if secret == "" && req.Password != "" {
		// Passwords are stored and transmitted only as their hash.
		secret = HashPassword(req.Password)
	}
	if secret == "" {
		writeError(w, http.StatusBadRequest, "secret must not be empty")
		return
	}

	if err := h.tracker.SetCredential(r.Context(), secret); err != nil {
		writeError(w, http.StatusUnauthorized, "credential rejected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_jobs": h.tracker.Count(),
	})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
