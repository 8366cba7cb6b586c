// Package tracker owns the live job set: every job between submission and its
// terminal outcome. It is the only writer of history entries and blob records,
// so the poller and the HTTP layer stay free of persistence details.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sorabox/sorabox/internal/blob"
	"github.com/sorabox/sorabox/internal/cost"
	"github.com/sorabox/sorabox/internal/gateway"
	"github.com/sorabox/sorabox/internal/history"
	"github.com/sorabox/sorabox/internal/job"
	"github.com/sorabox/sorabox/internal/metrics"
)

// ErrNotFound is returned when a job id matches neither a live job nor a
// history entry.
var ErrNotFound = errors.New("tracker: job not found")

// Notifier is called once per job when it reaches a terminal state.
type Notifier interface {
	NotifyTerminal(id string, status job.Status, errMsg string, durationMs int64)
}

// reconcileScan bounds how much history is examined when rebuilding the live
// set after a restart.
const reconcileScan = 500

type Tracker struct {
	gw     gateway.Gateway
	store  history.Store
	blobs  blob.Store
	hub    *Hub
	mode   string
	logger *slog.Logger

	mu    sync.Mutex
	jobs  map[string]*job.Job
	order []string

	credMu       sync.Mutex
	credVerified bool

	listenerMu sync.Mutex
	countFns   []func(int)

	notifier Notifier
}

func New(gw gateway.Gateway, store history.Store, blobs blob.Store, hub *Hub, mode string, logger *slog.Logger) *Tracker {
	return &Tracker{
		gw:     gw,
		store:  store,
		blobs:  blobs,
		hub:    hub,
		mode:   mode,
		logger: logger,
		jobs:   make(map[string]*job.Job),
	}
}

// SetNotifier registers an optional terminal-state notifier (webhook).
func (t *Tracker) SetNotifier(n Notifier) { t.notifier = n }

// OnCountChange registers a callback invoked with the pollable-job count
// after every change to the live set. Placeholders are excluded: a submission
// that has no provider id yet gives the poller nothing to do. The poller uses
// the callback to start itself.
func (t *Tracker) OnCountChange(fn func(int)) {
	t.listenerMu.Lock()
	t.countFns = append(t.countFns, fn)
	t.listenerMu.Unlock()
}

func (t *Tracker) notifyCount(n int) {
	metrics.ActiveJobs.Set(float64(n))
	t.listenerMu.Lock()
	fns := make([]func(int), len(t.countFns))
	copy(fns, t.countFns)
	t.listenerMu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// EnsureCredentials verifies the configured secret once and caches the
// outcome until CredentialFailure resets it.
func (t *Tracker) EnsureCredentials(ctx context.Context) error {
	t.credMu.Lock()
	defer t.credMu.Unlock()
	if t.credVerified {
		return nil
	}
	if err := t.gw.VerifyCredentials(ctx); err != nil {
		return err
	}
	t.credVerified = true
	return nil
}

// CredentialFailure forgets the cached verification so the next submission
// re-probes the gateway.
func (t *Tracker) CredentialFailure() {
	t.credMu.Lock()
	t.credVerified = false
	t.credMu.Unlock()
}

// SetCredential replaces the secret at runtime: the provider API key in
// direct mode, the password hash in relay mode. The replacement is verified
// against the gateway first; a rejected secret is discarded and the previous
// one restored.
func (t *Tracker) SetCredential(ctx context.Context, secret string) error {
	prev := t.installSecret(secret)
	t.CredentialFailure()
	if err := t.EnsureCredentials(ctx); err != nil {
		t.installSecret(prev)
		return err
	}
	return nil
}

func (t *Tracker) installSecret(secret string) (prev string) {
	switch g := t.gw.(type) {
	case *gateway.Direct:
		prev = g.APIKey()
		g.SetAPIKey(secret)
	case *gateway.Relay:
		prev = g.PasswordHash()
		g.SetPasswordHash(secret)
	}
	return prev
}

// SubmitCreate validates and accepts a generation request. It returns a
// placeholder job immediately; the provider call runs in the background and
// the placeholder is swapped for the provider-assigned job when it answers.
func (t *Tracker) SubmitCreate(ctx context.Context, req job.CreateRequest) (*job.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := t.EnsureCredentials(ctx); err != nil {
		return nil, err
	}

	temp := &job.Job{
		ID:        job.NewTempID(),
		CreatedAt: time.Now().UTC(),
		Status:    job.StatusQueued,
		Model:     req.Model,
		Seconds:   req.Seconds,
		Size:      req.Size,
		Prompt:    req.Prompt,
	}
	t.add(temp)

	go t.launch(temp.ID, func(ctx context.Context) (*job.Job, error) {
		return t.gw.Create(ctx, gateway.CreateParams{
			Model:   req.Model,
			Prompt:  req.Prompt,
			Size:    req.Size,
			Seconds: req.Seconds,
		})
	})
	return temp.Clone(), nil
}

// SubmitRemix accepts a remix of a previously completed job.
func (t *Tracker) SubmitRemix(ctx context.Context, req job.RemixRequest) (*job.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := t.EnsureCredentials(ctx); err != nil {
		return nil, err
	}

	src, err := t.store.Get(ctx, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load source job: %w", err)
	}
	if src == nil {
		return nil, ErrNotFound
	}
	if src.Status != history.StatusCompleted {
		return nil, fmt.Errorf("source job %s is %s, only completed jobs can be remixed", req.SourceID, src.Status)
	}

	temp := &job.Job{
		ID:        job.NewTempID(),
		CreatedAt: time.Now().UTC(),
		Status:    job.StatusQueued,
		Model:     src.Model,
		Seconds:   src.Seconds,
		Size:      src.Size,
		Prompt:    req.Prompt,
		RemixOf:   req.SourceID,
	}
	t.add(temp)

	go t.launch(temp.ID, func(ctx context.Context) (*job.Job, error) {
		return t.gw.Remix(ctx, req.SourceID, req.Prompt)
	})
	return temp.Clone(), nil
}

// launch runs the provider call for a placeholder and promotes or discards it.
func (t *Tracker) launch(tempID string, call func(context.Context) (*job.Job, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	created, err := call(ctx)
	if err != nil {
		t.logger.Error("job submission failed", "temp_id", tempID, "error", err)
		t.remove(tempID)
		t.hub.Publish(Event{Type: EventJobRemoved, JobID: tempID})
		if errors.Is(err, gateway.ErrInvalidCredential) {
			t.HandleCredentialFailure(ctx)
		}
		return
	}

	t.promote(tempID, created)
	metrics.JobsSubmitted.Inc()

	entry := &history.Entry{
		ID:        created.ID,
		Timestamp: created.CreatedAt,
		Filename:  videoFilename(created.ID),
		Model:     created.Model,
		Size:      created.Size,
		Seconds:   created.Seconds,
		Prompt:    created.Prompt,
		Mode:      t.mode,
		Cost:      cost.Calculate(created.Model, created.Size, created.Seconds),
		RemixOf:   created.RemixOf,
		Status:    history.StatusProcessing,
		Progress:  created.Progress,
	}
	if err := t.store.Insert(ctx, entry); err != nil {
		t.logger.Error("failed to persist history entry", "job_id", created.ID, "error", err)
	}
	t.saveActiveIDs(ctx)

	t.hub.Publish(Event{Type: EventJobUpdated, JobID: created.ID, Job: created.Clone()})
	t.hub.Publish(Event{Type: EventHistoryChanged})
	t.logger.Info("job submitted", "job_id", created.ID, "model", created.Model, "size", created.Size)
}

func videoFilename(id string) string {
	return "sora_" + id + ".mp4"
}

// add inserts a job preserving submission order.
func (t *Tracker) add(j *job.Job) {
	t.mu.Lock()
	if _, ok := t.jobs[j.ID]; !ok {
		t.order = append(t.order, j.ID)
	}
	t.jobs[j.ID] = j
	n := t.pollableLocked()
	t.mu.Unlock()
	t.notifyCount(n)
}

// promote swaps a placeholder for the provider-assigned job, keeping its
// position in the submission order. The job only becomes pollable here, so
// the count listeners fire.
func (t *Tracker) promote(tempID string, j *job.Job) {
	t.mu.Lock()
	delete(t.jobs, tempID)
	for i, id := range t.order {
		if id == tempID {
			t.order[i] = j.ID
			break
		}
	}
	t.jobs[j.ID] = j
	n := t.pollableLocked()
	t.mu.Unlock()
	t.notifyCount(n)
	t.hub.Publish(Event{Type: EventJobRemoved, JobID: tempID})
}

func (t *Tracker) remove(id string) bool {
	t.mu.Lock()
	_, ok := t.jobs[id]
	if ok {
		delete(t.jobs, id)
		for i, oid := range t.order {
			if oid == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	n := t.pollableLocked()
	t.mu.Unlock()
	if ok {
		t.notifyCount(n)
	}
	return ok
}

func (t *Tracker) pollableLocked() int {
	n := 0
	for id := range t.jobs {
		if !job.IsTempID(id) {
			n++
		}
	}
	return n
}

// Jobs returns the live set in submission order.
func (t *Tracker) Jobs() []*job.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*job.Job, 0, len(t.order))
	for _, id := range t.order {
		if j, ok := t.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	return out
}

func (t *Tracker) Get(id string) (*job.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// PollableCount reports how many live jobs carry a provider id.
func (t *Tracker) PollableCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pollableLocked()
}

// Pollable returns the live jobs the poller should check: everything except
// placeholders, which have no provider id yet.
func (t *Tracker) Pollable() []*job.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*job.Job, 0, len(t.order))
	for _, id := range t.order {
		if job.IsTempID(id) {
			continue
		}
		if j, ok := t.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	return out
}

// ApplyUpdate records a non-terminal status snapshot from the poller.
func (t *Tracker) ApplyUpdate(ctx context.Context, j *job.Job) {
	t.mu.Lock()
	cur, ok := t.jobs[j.ID]
	if ok {
		cur.Status = j.Status
		cur.Progress = j.Progress
		cur.Error = j.Error
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if err := t.store.UpdateProgress(ctx, j.ID, j.Progress, history.StatusProcessing); err != nil {
		t.logger.Warn("failed to persist progress", "job_id", j.ID, "error", err)
	}
	t.hub.Publish(Event{Type: EventJobUpdated, JobID: j.ID, Job: j.Clone()})
}

// CompleteJob finalizes a job the provider reports as done. The job leaves
// the live set before any download starts, so a slow or crashed download can
// never cause the artifact to be fetched twice.
func (t *Tracker) CompleteJob(ctx context.Context, id string) {
	if !t.remove(id) {
		return
	}
	t.saveActiveIDs(ctx)
	t.hub.Publish(Event{Type: EventJobRemoved, JobID: id})

	entry, err := t.store.Get(ctx, id)
	if err != nil || entry == nil {
		t.logger.Error("completed job has no history entry", "job_id", id, "error", err)
		return
	}

	video, err := t.gw.DownloadContent(ctx, id, gateway.VariantVideo)
	if err != nil {
		metrics.DownloadFailures.Inc()
		t.logger.Error("video download failed", "job_id", id, "error", err)
		// A rejected secret is not a generation failure: the entry stays
		// processing and the session resets for re-authentication.
		if errors.Is(err, gateway.ErrInvalidCredential) {
			t.HandleCredentialFailure(ctx)
			return
		}
		t.failEntry(ctx, id, fmt.Sprintf("download failed: %v", err))
		return
	}

	// Thumbnail and sprite sheet are best effort; providers generate them
	// lazily or not at all.
	thumb, err := t.gw.DownloadContent(ctx, id, gateway.VariantThumbnail)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidCredential) {
			t.HandleCredentialFailure(ctx)
			return
		}
		if !errors.Is(err, gateway.ErrNotFound) {
			t.logger.Warn("thumbnail download failed", "job_id", id, "error", err)
		}
		thumb = nil
	}
	sheet, err := t.gw.DownloadContent(ctx, id, gateway.VariantSpritesheet)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidCredential) {
			t.HandleCredentialFailure(ctx)
			return
		}
		if !errors.Is(err, gateway.ErrNotFound) {
			t.logger.Warn("spritesheet download failed", "job_id", id, "error", err)
		}
		sheet = nil
	}

	rec := &blob.Record{
		ID:          id,
		Filename:    entry.Filename,
		Video:       video,
		Thumbnail:   thumb,
		Spritesheet: sheet,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.blobs.Put(ctx, rec); err != nil {
		metrics.DownloadFailures.Inc()
		t.logger.Error("failed to store video", "job_id", id, "error", err)
		t.failEntry(ctx, id, fmt.Sprintf("storage failed: %v", err))
		return
	}
	metrics.Downloads.Inc()

	durationMs := time.Since(entry.Timestamp).Milliseconds()
	if err := t.store.Complete(ctx, id, durationMs, t.blobs.Mode()); err != nil {
		t.logger.Error("failed to finalize history entry", "job_id", id, "error", err)
	}
	metrics.JobsCompleted.Inc()
	if t.notifier != nil {
		t.notifier.NotifyTerminal(id, job.StatusCompleted, "", durationMs)
	}
	t.hub.Publish(Event{Type: EventHistoryChanged})
	t.logger.Info("job completed", "job_id", id, "duration_ms", durationMs, "storage", t.blobs.Mode())
}

// FailJob records a provider-reported failure and drops the job.
func (t *Tracker) FailJob(ctx context.Context, id string, detail *job.ErrorDetail) {
	if !t.remove(id) {
		return
	}
	t.saveActiveIDs(ctx)
	t.hub.Publish(Event{Type: EventJobRemoved, JobID: id})

	msg := "generation failed"
	if detail != nil && detail.Message != "" {
		msg = detail.Message
	}
	t.failEntry(ctx, id, msg)
	t.logger.Info("job failed", "job_id", id, "error", msg)
}

func (t *Tracker) failEntry(ctx context.Context, id, msg string) {
	if err := t.store.Fail(ctx, id, msg); err != nil {
		t.logger.Error("failed to mark history entry failed", "job_id", id, "error", err)
	}
	metrics.JobsFailed.Inc()
	if t.notifier != nil {
		t.notifier.NotifyTerminal(id, job.StatusFailed, msg, 0)
	}
	t.hub.Publish(Event{Type: EventHistoryChanged})
}

// HandleCredentialFailure clears all live tracking: once the secret is
// rejected every further poll would fail identically. The jobs stay in
// history as processing rows; they are not re-polled until resubmitted.
func (t *Tracker) HandleCredentialFailure(ctx context.Context) {
	t.CredentialFailure()

	t.mu.Lock()
	ids := t.order
	t.jobs = make(map[string]*job.Job)
	t.order = nil
	t.mu.Unlock()
	t.notifyCount(0)

	if err := t.store.SaveActiveIDs(ctx, nil); err != nil {
		t.logger.Error("failed to clear active id list", "error", err)
	}
	for _, id := range ids {
		t.hub.Publish(Event{Type: EventJobRemoved, JobID: id})
	}
	t.hub.Publish(Event{Type: EventReauthRequired})
	t.logger.Warn("credential rejected, live tracking cleared", "dropped_jobs", len(ids))
}

// Delete removes a job everywhere. For failed jobs and forced deletes the
// provider call is skipped; otherwise a provider still-processing refusal is
// surfaced so the caller can offer a forced local delete.
func (t *Tracker) Delete(ctx context.Context, id string, force bool) error {
	entry, err := t.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load history entry: %w", err)
	}
	_, live := t.Get(id)
	if entry == nil && !live {
		return ErrNotFound
	}

	skipRemote := force || job.IsTempID(id) || (entry != nil && entry.Status == history.StatusFailed)
	if !skipRemote {
		switch err := t.gw.Delete(ctx, id); {
		case err == nil:
		case errors.Is(err, gateway.ErrStillProcessing):
			return err
		case errors.Is(err, gateway.ErrNotFound):
			// Already gone upstream; local cleanup proceeds.
		default:
			t.logger.Warn("remote delete failed, removing locally", "job_id", id, "error", err)
		}
	}

	if t.remove(id) {
		t.saveActiveIDs(ctx)
		t.hub.Publish(Event{Type: EventJobRemoved, JobID: id})
	}
	if err := t.blobs.Delete(ctx, id); err != nil && !errors.Is(err, blob.ErrNotFound) {
		t.logger.Warn("failed to delete stored video", "job_id", id, "error", err)
	}
	if entry != nil {
		if err := t.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete history entry: %w", err)
		}
		t.hub.Publish(Event{Type: EventHistoryChanged})
	}
	t.logger.Info("job deleted", "job_id", id, "forced", force)
	return nil
}

// ClearHistory wipes every job, entry and stored artifact. Remote copies are
// left untouched.
func (t *Tracker) ClearHistory(ctx context.Context) error {
	t.mu.Lock()
	ids := t.order
	t.jobs = make(map[string]*job.Job)
	t.order = nil
	t.mu.Unlock()
	t.notifyCount(0)

	for _, id := range ids {
		t.hub.Publish(Event{Type: EventJobRemoved, JobID: id})
	}
	if err := t.store.SaveActiveIDs(ctx, nil); err != nil {
		t.logger.Error("failed to clear active id list", "error", err)
	}
	// Each step is independent: a failing blob wipe must not leave the
	// history list behind.
	if err := t.blobs.Clear(ctx); err != nil {
		t.logger.Error("failed to clear blob storage", "error", err)
	}
	if err := t.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	t.hub.Publish(Event{Type: EventHistoryChanged})
	t.logger.Info("history cleared", "dropped_jobs", len(ids))
	return nil
}

// Reconcile rebuilds the live set after a restart from the persisted
// active-id list, keeping only the ids whose history entry is still marked
// processing. Processing entries absent from the list stay dormant: either
// polling was deliberately stopped for them (rejected credential) or they are
// stuck rows from a session that never finished.
func (t *Tracker) Reconcile(ctx context.Context) error {
	ids, err := t.store.LoadActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("load active ids: %w", err)
	}

	entries, _, err := t.store.List(ctx, reconcileScan, 0)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	byID := make(map[string]*history.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	restored := 0
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, ok := byID[id]
		if !ok || e.Status != history.StatusProcessing {
			continue
		}
		t.add(&job.Job{
			ID:        e.ID,
			CreatedAt: e.Timestamp,
			Status:    job.StatusInProgress,
			Progress:  e.Progress,
			Model:     e.Model,
			Seconds:   e.Seconds,
			Size:      e.Size,
			Prompt:    e.Prompt,
			RemixOf:   e.RemixOf,
		})
		restored++
	}
	t.saveActiveIDs(ctx)
	if restored > 0 {
		t.logger.Info("restored unfinished jobs", "count", restored)
	}
	return nil
}

// saveActiveIDs persists the current non-placeholder live ids.
func (t *Tracker) saveActiveIDs(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.order))
	for _, id := range t.order {
		if !job.IsTempID(id) {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()
	if err := t.store.SaveActiveIDs(ctx, ids); err != nil {
		t.logger.Error("failed to persist active id list", "error", err)
	}
}
