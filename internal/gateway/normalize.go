package gateway

import (
	"strconv"
	"time"

	"github.com/sorabox/sorabox/internal/job"
)

// Upstream gateways disagree on response shapes. The lists below are the
// provider-compatibility contract: each is evaluated in order and the first
// field that yields a value wins.
var (
	statusKeys   = []string{"status", "task_status", "state", "phase"}
	progressKeys = []string{"progress", "percent"}
	idKeys       = []string{"id", "task_id", "job_id"}

	resultURLPaths = [][]string{
		{"output", "url"},
		{"result", "url"},
		{"data", "url"},
		{"video", "url"},
		{"url"},
	}
	thumbnailPaths = [][]string{
		{"output", "thumbnail"},
		{"result", "thumbnail"},
		{"data", "thumbnail"},
		{"thumbnail"},
	}
)

// Normalized is the provider-agnostic view of one status response.
type Normalized struct {
	ID           string
	Status       job.Status
	Progress     int
	Model        string
	Size         string
	Seconds      int
	CreatedAt    time.Time
	ResultURL    string
	ThumbnailURL string
	Error        *job.ErrorDetail
}

// Normalize maps a decoded response body onto the canonical job shape.
func Normalize(raw map[string]any) Normalized {
	n := Normalized{
		ID:           firstString(raw, idKeys),
		Progress:     firstInt(raw, progressKeys),
		Model:        stringAt(raw, []string{"model"}),
		Size:         stringAt(raw, []string{"size"}),
		ResultURL:    firstPath(raw, resultURLPaths),
		ThumbnailURL: firstPath(raw, thumbnailPaths),
		Error:        extractError(raw),
	}

	if secs := firstInt(raw, []string{"seconds", "duration"}); secs > 0 {
		n.Seconds = secs
	}
	if ts := firstInt64(raw, []string{"created_at"}); ts > 0 {
		n.CreatedAt = time.Unix(ts, 0).UTC()
	}

	rawStatus := firstString(raw, statusKeys)
	n.Status = mapStatus(rawStatus, n.ResultURL, n.Error)
	if n.Status == job.StatusCompleted {
		n.Progress = 100
	}
	return n
}

func mapStatus(raw, resultURL string, errDetail *job.ErrorDetail) job.Status {
	switch raw {
	case "queued", "pending", "created":
		return job.StatusQueued
	case "in_progress", "processing", "running", "generating":
		return job.StatusInProgress
	case "completed", "succeeded", "success", "done":
		return job.StatusCompleted
	case "failed", "error", "cancelled":
		return job.StatusFailed
	}
	// No recognizable status. A result URL means the work is done; an error
	// body means it is not coming. Otherwise assume it is still running so the
	// next poll gets another chance.
	if resultURL != "" {
		return job.StatusCompleted
	}
	if errDetail != nil {
		return job.StatusFailed
	}
	return job.StatusInProgress
}

func extractError(raw map[string]any) *job.ErrorDetail {
	v, ok := raw["error"]
	if !ok || v == nil {
		return nil
	}
	switch e := v.(type) {
	case string:
		if e == "" {
			return nil
		}
		return &job.ErrorDetail{Message: e}
	case map[string]any:
		d := &job.ErrorDetail{
			Message: stringAt(e, []string{"message"}),
			Code:    stringAt(e, []string{"code"}),
		}
		if d.Message == "" && d.Code == "" {
			return nil
		}
		if d.Message == "" {
			d.Message = d.Code
		}
		return d
	}
	return nil
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstInt(m map[string]any, keys []string) int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

func firstInt64(m map[string]any, keys []string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func stringAt(m map[string]any, path []string) string {
	cur := any(m)
	for _, key := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = node[key]
	}
	s, _ := cur.(string)
	return s
}

func firstPath(m map[string]any, paths [][]string) string {
	for _, p := range paths {
		if s := stringAt(m, p); s != "" {
			return s
		}
	}
	return ""
}
