// Package webhook posts a notification to a configured URL whenever a job
// reaches a terminal state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sorabox/sorabox/internal/job"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// Payload is the JSON body posted for each terminal job.
type Payload struct {
	ID         string     `json:"id"`
	Status     job.Status `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Notifier implements the tracker's terminal-state callback. A nil Notifier
// or an empty URL disables delivery.
type Notifier struct {
	url    string
	ctx    context.Context
	logger *slog.Logger
}

// New validates the target URL eagerly so a bad configuration fails at
// startup rather than on the first completed job. ctx bounds retry loops and
// should live for the whole process.
func New(ctx context.Context, rawURL string, logger *slog.Logger) (*Notifier, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	return &Notifier{url: rawURL, ctx: ctx, logger: logger}, nil
}

// NotifyTerminal dispatches the payload asynchronously. Retries use full
// jitter so simultaneous failures do not resynchronize.
func (n *Notifier) NotifyTerminal(id string, status job.Status, errMsg string, durationMs int64) {
	payload, err := json.Marshal(Payload{
		ID:         id,
		Status:     status,
		Error:      errMsg,
		DurationMs: durationMs,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("webhook: failed to marshal payload", "job_id", id, "error", err)
		return
	}
	go n.send(payload)
}

// validateURL blocks non-HTTP schemes and private/internal IP ranges.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}

func (n *Notifier) send(payload []byte) {
	client := &http.Client{Timeout: 30 * time.Second}

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if n.ctx.Err() != nil {
			return
		}
		err := post(n.ctx, client, n.url, payload)
		if err == nil {
			return
		}
		n.logger.Warn("webhook attempt failed", "attempt", attempt, "url", n.url, "error", err)
		if attempt < retryAttempts {
			time.Sleep(jitter(attempt))
		}
	}
	n.logger.Error("webhook: all retries exhausted", "url", n.url)
}

// jitter returns a random duration between 0 and min(retryCap, retryBase * 2^attempt).
func jitter(attempt int) time.Duration {
	exp := retryBase * (1 << attempt)
	if exp > retryCap {
		exp = retryCap
	}
	return time.Duration(rand.Int63n(int64(exp)))
}

func post(ctx context.Context, client *http.Client, callbackURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
