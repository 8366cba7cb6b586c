package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorabox/sorabox/internal/job"
)

func TestRelayCreateSendsPasswordHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/videos", r.URL.Path)
		require.Equal(t, "abc123", r.Header.Get("x-password-hash"))
		require.Empty(t, r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "video_r1", "status": "queued"})
	}))
	defer srv.Close()

	rl := NewRelay(srv.URL, "abc123")
	j, err := rl.Create(context.Background(), CreateParams{
		Model: "sora-2", Prompt: "p", Size: "1280x720", Seconds: 4,
	})
	require.NoError(t, err)
	require.Equal(t, "video_r1", j.ID)
	require.Equal(t, job.StatusQueued, j.Status)
}

func TestRelayRejectedPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rl := NewRelay(srv.URL, "wrong")
	_, err := rl.Create(context.Background(), CreateParams{Model: "sora-2"})
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestRelayRemix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/videos/video_src/remix", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "make it rain", body["prompt"])
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "video_r2", "status": "queued"})
	}))
	defer srv.Close()

	rl := NewRelay(srv.URL, "")
	j, err := rl.Remix(context.Background(), "video_src", "make it rain")
	require.NoError(t, err)
	require.Equal(t, "video_r2", j.ID)
	require.Equal(t, "video_src", j.RemixOf)
}

func TestRelayRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/videos/video_r1", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": "video_r1", "status": "in_progress", "progress": 60,
		})
	}))
	defer srv.Close()

	rl := NewRelay(srv.URL, "")
	j, err := rl.Retrieve(context.Background(), "video_r1")
	require.NoError(t, err)
	require.Equal(t, job.StatusInProgress, j.Status)
	require.Equal(t, 60, j.Progress)
}

func TestRelayDownloadContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/videos/video_r1/content", r.URL.Path)
		if r.URL.Query().Get("variant") == "thumbnail" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("relayed-mp4"))
	}))
	defer srv.Close()

	rl := NewRelay(srv.URL, "")
	data, err := rl.DownloadContent(context.Background(), "video_r1", VariantVideo)
	require.NoError(t, err)
	require.Equal(t, []byte("relayed-mp4"), data)

	_, err = rl.DownloadContent(context.Background(), "video_r1", VariantThumbnail)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRelayDeleteStillProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": "video_still_processing", "message": "hold on"},
		})
	}))
	defer srv.Close()

	err := NewRelay(srv.URL, "").Delete(context.Background(), "video_r1")
	require.ErrorIs(t, err, ErrStillProcessing)
}

func TestRelayContentURL(t *testing.T) {
	rl := NewRelay("https://relay.example", "deadbeef")

	u := rl.ContentURL("video_r1", VariantVideo)
	require.Equal(t, "https://relay.example/api/videos/video_r1/content?password-hash=deadbeef", u)

	u = rl.ContentURL("video_r1", VariantThumbnail)
	require.Contains(t, u, "variant=thumbnail")
	require.Contains(t, u, "password-hash=deadbeef")

	rl.SetPasswordHash("")
	require.Equal(t, "https://relay.example/api/videos/video_r1/content",
		rl.ContentURL("video_r1", VariantVideo))
}

func TestRelayVerifyCredentials(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }

	cases := []struct {
		name    string
		status  AuthStatus
		hash    string
		wantErr error
	}{
		{"open relay", AuthStatus{PasswordRequired: false}, "", nil},
		{"required missing", AuthStatus{PasswordRequired: true}, "", ErrCredentialRequired},
		{"required valid", AuthStatus{PasswordRequired: true, Valid: boolPtr(true)}, "h", nil},
		{"required invalid", AuthStatus{PasswordRequired: true, Valid: boolPtr(false)}, "h", ErrInvalidCredential},
		{"required unchecked", AuthStatus{PasswordRequired: true}, "h", ErrInvalidCredential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/auth-status", r.URL.Path)
				writeJSON(t, w, http.StatusOK, tc.status)
			}))
			defer srv.Close()

			err := NewRelay(srv.URL, tc.hash).VerifyCredentials(context.Background())
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}

	t.Run("probe failure is fail-closed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		err := NewRelay(srv.URL, "").VerifyCredentials(context.Background())
		require.ErrorIs(t, err, ErrCredentialRequired)
	})
}
