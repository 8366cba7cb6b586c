package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorabox/sorabox/internal/gateway"
	"github.com/sorabox/sorabox/internal/job"
)

func newRelayServer(t *testing.T, gw gateway.Gateway, password string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewRelayHandler(gw, password).RegisterRoutes(mux)
	srv := httptest.NewServer(Chain(mux, RelayAuth(password)))
	t.Cleanup(srv.Close)
	return srv
}

func TestRelayAuthStatus(t *testing.T) {
	t.Run("open relay", func(t *testing.T) {
		srv := newRelayServer(t, &stubGateway{}, "")
		resp, err := http.Get(srv.URL + "/api/auth-status")
		require.NoError(t, err)
		body := decode[map[string]any](t, resp)
		require.Equal(t, false, body["passwordRequired"])
		require.NotContains(t, body, "valid")
	})

	t.Run("protected relay validates hashes", func(t *testing.T) {
		srv := newRelayServer(t, &stubGateway{}, "hunter2")

		probe := func(hash string) map[string]any {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/auth-status", nil)
			if hash != "" {
				req.Header.Set("x-password-hash", hash)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			return decode[map[string]any](t, resp)
		}

		body := probe("")
		require.Equal(t, true, body["passwordRequired"])
		require.NotContains(t, body, "valid")

		body = probe(HashPassword("hunter2"))
		require.Equal(t, true, body["valid"])

		body = probe(HashPassword("wrong"))
		require.Equal(t, false, body["valid"])
	})
}

func TestRelayCreateRequiresPassword(t *testing.T) {
	srv := newRelayServer(t, &stubGateway{}, "hunter2")

	resp := postJSON(t, srv.URL+"/api/videos", job.CreateRequest{
		Model: "sora-2", Prompt: "p", Size: "1280x720", Seconds: 4,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRelayCreate(t *testing.T) {
	gw := &stubGateway{nextID: "video_relay"}
	srv := newRelayServer(t, gw, "")

	resp := postJSON(t, srv.URL+"/api/videos", job.CreateRequest{
		Model: "sora-2", Prompt: "a fox", Size: "1280x720", Seconds: 8,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	j := decode[job.Job](t, resp)
	require.Equal(t, "video_relay", j.ID)
	require.Equal(t, 8, gw.lastParams.Seconds)

	// Invalid requests never reach the provider.
	resp = postJSON(t, srv.URL+"/api/videos", job.CreateRequest{
		Model: "sora-2", Prompt: "", Size: "1280x720", Seconds: 8,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelayGetAndContent(t *testing.T) {
	gw := &stubGateway{
		retrieved: &job.Job{ID: "video_a", Status: job.StatusInProgress, Progress: 33},
		content:   []byte("proxied-mp4"),
	}
	srv := newRelayServer(t, gw, "")

	resp, err := http.Get(srv.URL + "/api/videos/video_a")
	require.NoError(t, err)
	j := decode[job.Job](t, resp)
	require.Equal(t, 33, j.Progress)

	resp, err = http.Get(srv.URL + "/api/videos/video_a/content")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("proxied-mp4"), data)

	// Thumbnail is not ready yet.
	resp, err = http.Get(srv.URL + "/api/videos/video_a/content?variant=thumbnail")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRelayDelete(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := newRelayServer(t, &stubGateway{}, "")
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/videos/video_a", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body := decode[map[string]bool](t, resp)
		require.True(t, body["deleted"])
	})

	t.Run("still processing", func(t *testing.T) {
		srv := newRelayServer(t, &stubGateway{deleteErr: gateway.ErrStillProcessing}, "")
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/videos/video_a", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		require.Equal(t, "video_still_processing", body.Error.Code)
	})
}

func TestRelayProviderCredentialFailure(t *testing.T) {
	srv := newRelayServer(t, &stubGateway{createErr: gateway.ErrInvalidCredential}, "")

	resp := postJSON(t, srv.URL+"/api/videos", job.CreateRequest{
		Model: "sora-2", Prompt: "p", Size: "1280x720", Seconds: 4,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
