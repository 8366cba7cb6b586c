package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorabox/sorabox/internal/job"
)

func TestNormalizeStatusAliases(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want job.Status
	}{
		{"canonical", map[string]any{"status": "in_progress"}, job.StatusInProgress},
		{"task_status", map[string]any{"task_status": "processing"}, job.StatusInProgress},
		{"state", map[string]any{"state": "succeeded"}, job.StatusCompleted},
		{"phase", map[string]any{"phase": "pending"}, job.StatusQueued},
		{"failed", map[string]any{"status": "error"}, job.StatusFailed},
		{"url implies done", map[string]any{"output": map[string]any{"url": "https://x/v.mp4"}}, job.StatusCompleted},
		{"error implies failed", map[string]any{"error": "boom"}, job.StatusFailed},
		{"unknown stays running", map[string]any{"status": "warming_up"}, job.StatusInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.raw).Status)
		})
	}
}

func TestNormalizeFieldPriority(t *testing.T) {
	// The first key in each list wins even when aliases are also present.
	n := Normalize(map[string]any{
		"status":      "queued",
		"task_status": "failed",
		"progress":    float64(40),
		"percent":     float64(99),
		"id":          "video_123",
		"task_id":     "other",
	})
	require.Equal(t, job.StatusQueued, n.Status)
	require.Equal(t, 40, n.Progress)
	require.Equal(t, "video_123", n.ID)
}

func TestNormalizeResultURLFallbacks(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
	}{
		{"output", map[string]any{"output": map[string]any{"url": "https://x/v.mp4"}}},
		{"result", map[string]any{"result": map[string]any{"url": "https://x/v.mp4"}}},
		{"data", map[string]any{"data": map[string]any{"url": "https://x/v.mp4"}}},
		{"video", map[string]any{"video": map[string]any{"url": "https://x/v.mp4"}}},
		{"top level", map[string]any{"url": "https://x/v.mp4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Normalize(tc.raw)
			require.Equal(t, "https://x/v.mp4", n.ResultURL)
			require.Equal(t, job.StatusCompleted, n.Status)
			require.Equal(t, 100, n.Progress)
		})
	}
}

func TestNormalizeProgressAsString(t *testing.T) {
	n := Normalize(map[string]any{"status": "in_progress", "progress": "73"})
	require.Equal(t, 73, n.Progress)
}

func TestNormalizeError(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		n := Normalize(map[string]any{"status": "failed", "error": "moderation block"})
		require.NotNil(t, n.Error)
		require.Equal(t, "moderation block", n.Error.Message)
	})

	t.Run("object", func(t *testing.T) {
		n := Normalize(map[string]any{
			"status": "failed",
			"error":  map[string]any{"message": "bad key", "code": "invalid_api_key"},
		})
		require.NotNil(t, n.Error)
		require.Equal(t, "bad key", n.Error.Message)
		require.Equal(t, "invalid_api_key", n.Error.Code)
	})

	t.Run("code only", func(t *testing.T) {
		n := Normalize(map[string]any{"error": map[string]any{"code": "rate_limited"}})
		require.NotNil(t, n.Error)
		require.Equal(t, "rate_limited", n.Error.Message)
	})

	t.Run("empty object ignored", func(t *testing.T) {
		n := Normalize(map[string]any{"status": "queued", "error": map[string]any{}})
		require.Nil(t, n.Error)
		require.Equal(t, job.StatusQueued, n.Status)
	})
}

func TestNormalizeMetadata(t *testing.T) {
	n := Normalize(map[string]any{
		"id":         "video_42",
		"status":     "queued",
		"model":      "sora-2",
		"size":       "1280x720",
		"seconds":    "8",
		"created_at": float64(1757000000),
	})
	require.Equal(t, "sora-2", n.Model)
	require.Equal(t, "1280x720", n.Size)
	require.Equal(t, 8, n.Seconds)
	require.Equal(t, int64(1757000000), n.CreatedAt.Unix())
}
