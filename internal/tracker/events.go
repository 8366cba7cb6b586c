package tracker

import (
	"sync"

	"github.com/sorabox/sorabox/internal/job"
)

type EventType string

const (
	// EventJobUpdated carries a fresh snapshot of a live job.
	EventJobUpdated EventType = "job_updated"
	// EventJobRemoved means a job left the live set (terminal or deleted).
	EventJobRemoved EventType = "job_removed"
	// EventHistoryChanged signals that the persisted history changed shape.
	EventHistoryChanged EventType = "history_changed"
	// EventReauthRequired means the credential was rejected and all live
	// tracking stopped until a new one is supplied.
	EventReauthRequired EventType = "reauth_required"
)

type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id,omitempty"`
	Job   *job.Job  `json:"job,omitempty"`
}

// Hub fans job-lifecycle events out to subscribers. Sends never block: a
// subscriber that stops draining loses events rather than stalling the
// tracker.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel registered with the hub.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, ok := h.subs[ch]
	delete(h.subs, ch)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
