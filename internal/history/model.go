package history

import (
	"context"
	"time"

	"github.com/sorabox/sorabox/internal/cost"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is the durable record of a job, independent of whether the job is
// still tracked live. There is exactly one entry per job id; it is created at
// submission and only ever updated in place.
type Entry struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Filename    string        `json:"filename"`
	StorageMode string        `json:"storage_mode,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
	Model       string        `json:"model"`
	Size        string        `json:"size"`
	Seconds     int           `json:"seconds"`
	Prompt      string        `json:"prompt"`
	Mode        string        `json:"mode"`
	Cost        *cost.Details `json:"cost_details"`
	RemixOf     string        `json:"remix_of,omitempty"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Progress    int           `json:"progress"`
}

// Store persists history entries and the small settings needed to survive a
// restart (the active-job-id list and stored credentials).
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	// List returns entries ordered by timestamp DESC, plus the total count.
	List(ctx context.Context, limit, offset int) ([]*Entry, int, error)
	UpdateProgress(ctx context.Context, id string, progress int, status Status) error
	// Complete finalizes an entry: elapsed duration, storage mode, status.
	Complete(ctx context.Context, id string, durationMs int64, storageMode string) error
	// Fail records the error and clears the cost estimate (failed jobs are not billed).
	Fail(ctx context.Context, id, errMsg string) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error

	SaveActiveIDs(ctx context.Context, ids []string) error
	LoadActiveIDs(ctx context.Context) ([]string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, error)

	Close() error
}
