package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorabox/sorabox/internal/job"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "valid public IP",
			url:     "http://93.184.216.34/hook",
			wantErr: false,
		},
		{
			name:    "invalid scheme ftp",
			url:     "ftp://example.com/hook",
			wantErr: true,
		},
		{
			name:    "loopback IP blocked",
			url:     "http://127.0.0.1/hook",
			wantErr: true,
		},
		{
			name:    "private IP blocked",
			url:     "http://192.168.1.1/hook",
			wantErr: true,
		},
		{
			name:    "link-local IP blocked (AWS metadata)",
			url:     "http://169.254.169.254/hook",
			wantErr: true,
		},
		{
			name:    "garbled URL",
			url:     "://not a valid url%%",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestNotifyTerminalPayload(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The local test server runs on a loopback address, so exercise the post
	// path directly rather than going through New's SSRF validation.
	n := &Notifier{url: srv.URL, ctx: t.Context(), logger: logger}
	n.NotifyTerminal("video_1", job.StatusCompleted, "", 4200)

	select {
	case p := <-received:
		require.Equal(t, "video_1", p.ID)
		require.Equal(t, job.StatusCompleted, p.Status)
		require.EqualValues(t, 4200, p.DurationMs)
		require.Empty(t, p.Error)
		require.False(t, p.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}
