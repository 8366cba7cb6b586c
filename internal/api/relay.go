package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sorabox/sorabox/internal/gateway"
	"github.com/sorabox/sorabox/internal/job"
)

// RelayHandler serves the relay surface: the provider key stays on this
// instance and other clients submit through it, optionally gated by a shared
// password (see RelayAuth).
type RelayHandler struct {
	gw               gateway.Gateway
	passwordRequired bool
	expectedHash     string
}

// NewRelayHandler builds the relay surface around a provider-facing gateway.
// password empty means the surface is open.
func NewRelayHandler(gw gateway.Gateway, password string) *RelayHandler {
	rh := &RelayHandler{gw: gw, passwordRequired: password != ""}
	if rh.passwordRequired {
		rh.expectedHash = HashPassword(password)
	}
	return rh
}

// RegisterRoutes registers the relay routes on mux.
func (rh *RelayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth-status", rh.AuthStatus)
	mux.HandleFunc("POST /api/videos", rh.CreateVideo)
	mux.HandleFunc("POST /api/videos/{id}/remix", rh.RemixVideo)
	mux.HandleFunc("GET /api/videos/{id}", rh.GetVideo)
	mux.HandleFunc("GET /api/videos/{id}/content", rh.VideoContent)
	mux.HandleFunc("DELETE /api/videos/{id}", rh.DeleteVideo)
}

// AuthStatus handles GET /api/auth-status. It reports whether a password is
// required and, when the caller already sent a hash, whether it matches. It
// is reachable without authentication.
func (rh *RelayHandler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"passwordRequired": rh.passwordRequired}
	if provided := r.Header.Get("x-password-hash"); provided != "" {
		match := subtle.ConstantTimeCompare([]byte(provided), []byte(rh.expectedHash)) == 1
		resp["valid"] = rh.passwordRequired && match
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateVideo handles POST /api/videos against the provider.
func (rh *RelayHandler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req job.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j, err := rh.gw.Create(r.Context(), gateway.CreateParams{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Size:    req.Size,
		Seconds: req.Seconds,
	})
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// RemixVideo handles POST /api/videos/{id}/remix.
func (rh *RelayHandler) RemixVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}

	j, err := rh.gw.Remix(r.Context(), r.PathValue("id"), req.Prompt)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetVideo handles GET /api/videos/{id} and returns the normalized job.
func (rh *RelayHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	j, err := rh.gw.Retrieve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// VideoContent handles GET /api/videos/{id}/content and proxies the bytes.
func (rh *RelayHandler) VideoContent(w http.ResponseWriter, r *http.Request) {
	variant := gateway.VariantVideo
	switch r.URL.Query().Get("variant") {
	case "thumbnail":
		variant = gateway.VariantThumbnail
	case "spritesheet":
		variant = gateway.VariantSpritesheet
	}

	data, err := rh.gw.DownloadContent(r.Context(), r.PathValue("id"), variant)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	switch variant {
	case gateway.VariantVideo:
		w.Header().Set("Content-Type", "video/mp4")
	default:
		w.Header().Set("Content-Type", "image/webp")
	}
	w.Write(data) //nolint:errcheck
}

// DeleteVideo handles DELETE /api/videos/{id}. A provider refusal while the
// video is still generating maps to 409 with the distinguished code so relay
// clients can offer a forced local delete.
func (rh *RelayHandler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	switch err := rh.gw.Delete(r.Context(), r.PathValue("id")); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	case errors.Is(err, gateway.ErrStillProcessing):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]string{
				"code":    "video_still_processing",
				"message": "video is still being processed",
			},
		})
	default:
		writeRelayError(w, err)
	}
}

func writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidCredential), errors.Is(err, gateway.ErrCredentialRequired):
		// The instance's own provider key is broken; to callers that is a
		// server-side failure, not their authentication problem.
		writeError(w, http.StatusBadGateway, "provider credential rejected")
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
