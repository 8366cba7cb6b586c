package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var validModels = map[string]bool{
	"sora-2":     true,
	"sora-2-pro": true,
}

var validSizes = map[string]bool{
	"720x1280":  true,
	"1280x720":  true,
	"1024x1792": true,
	"1792x1024": true,
}

var validSeconds = map[int]bool{4: true, 8: true, 12: true}

// TempIDPrefix marks locally-generated provisional job ids. Jobs carrying it
// are never polled and never persisted; they exist only between submission and
// the provider's create response.
const TempIDPrefix = "temp_"

// NewTempID returns a fresh provisional job id.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id is a provisional local id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ErrorDetail carries a provider-reported generation failure.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Job is one video-generation request tracked from submission to terminal outcome.
type Job struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Status    Status       `json:"status"`
	Progress  int          `json:"progress"`
	Model     string       `json:"model"`
	Seconds   int          `json:"seconds"`
	Size      string       `json:"size"`
	Prompt    string       `json:"prompt,omitempty"`
	RemixOf   string       `json:"remix_of,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// Clone returns a copy of j so callers cannot mutate tracked state.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// CreateRequest is the payload used to submit a new generation job.
type CreateRequest struct {
	Model   string `json:"model,omitempty"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
}

func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt must not be empty")
	}
	if !validModels[r.Model] {
		return fmt.Errorf("model %q must be one of: sora-2, sora-2-pro", r.Model)
	}
	if !validSizes[r.Size] {
		return fmt.Errorf("size %q must be one of: 720x1280, 1280x720, 1024x1792, 1792x1024", r.Size)
	}
	if !validSeconds[r.Seconds] {
		return fmt.Errorf("seconds %d must be one of: 4, 8, 12", r.Seconds)
	}
	return nil
}

// RemixRequest derives a new job from a previously completed one.
type RemixRequest struct {
	SourceID string `json:"source_id"`
	Prompt   string `json:"prompt"`
}

func (r *RemixRequest) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return errors.New("source_id must not be empty")
	}
	if IsTempID(r.SourceID) {
		return errors.New("source_id refers to an unsubmitted job")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt must not be empty")
	}
	return nil
}
