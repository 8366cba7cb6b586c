package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sorabox/sorabox/internal/job"
)

// Relay talks to a deployed relay server that holds the provider key. The
// client proves knowledge of an optional shared password by sending its
// SHA-256 hash; the relay never sees the clear password.
type Relay struct {
	baseURL string
	client  *http.Client

	mu           sync.RWMutex
	passwordHash string
}

func NewRelay(baseURL, passwordHash string) *Relay {
	return &Relay{
		baseURL:      baseURL,
		passwordHash: passwordHash,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

// SetPasswordHash replaces the stored proof at runtime.
func (r *Relay) SetPasswordHash(hash string) {
	r.mu.Lock()
	r.passwordHash = hash
	r.mu.Unlock()
}

// PasswordHash returns the currently stored proof.
func (r *Relay) PasswordHash() string {
	return r.hash()
}

func (r *Relay) hash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.passwordHash
}

// ContentURL builds the relay content endpoint for a job, attaching the
// password proof as a query parameter so media elements can fetch it without
// custom headers.
func (r *Relay) ContentURL(id string, variant Variant) string {
	u := r.baseURL + "/api/videos/" + id + "/content"
	q := url.Values{}
	if variant != VariantVideo {
		q.Set("variant", string(variant))
	}
	if h := r.hash(); h != "" {
		q.Set("password-hash", h)
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (r *Relay) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if h := r.hash(); h != "" {
		req.Header.Set("x-password-hash", h)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrInvalidCredential
	}
	return resp, nil
}

func (r *Relay) Create(ctx context.Context, p CreateParams) (*job.Job, error) {
	resp, err := r.do(ctx, http.MethodPost, "/api/videos", map[string]any{
		"model":   p.Model,
		"prompt":  p.Prompt,
		"size":    p.Size,
		"seconds": strconv.Itoa(p.Seconds),
	})
	if err != nil {
		return nil, err
	}
	status := resp.StatusCode
	raw, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, apiError("create", status, raw)
	}

	n := Normalize(raw)
	if n.ID == "" {
		return nil, fmt.Errorf("create: relay returned no job id")
	}
	j := jobFromNormalized(n, p)
	j.Status = job.StatusQueued
	return j, nil
}

func (r *Relay) Remix(ctx context.Context, sourceID, prompt string) (*job.Job, error) {
	resp, err := r.do(ctx, http.MethodPost, "/api/videos/"+sourceID+"/remix", map[string]any{
		"prompt": prompt,
	})
	if err != nil {
		return nil, err
	}
	status := resp.StatusCode
	raw, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, apiError("remix", status, raw)
	}

	n := Normalize(raw)
	if n.ID == "" {
		return nil, fmt.Errorf("remix: relay returned no job id")
	}
	j := jobFromNormalized(n, CreateParams{Prompt: prompt})
	j.Status = job.StatusQueued
	j.RemixOf = sourceID
	return j, nil
}

func (r *Relay) Retrieve(ctx context.Context, id string) (*job.Job, error) {
	resp, err := r.do(ctx, http.MethodGet, "/api/videos/"+id, nil)
	if err != nil {
		return nil, err
	}
	status := resp.StatusCode
	raw, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, apiError("retrieve", status, raw)
	}

	n := Normalize(raw)
	if n.ID == "" {
		n.ID = id
	}
	return jobFromNormalized(n, CreateParams{}), nil
}

func (r *Relay) DownloadContent(ctx context.Context, id string, variant Variant) ([]byte, error) {
	path := "/api/videos/" + id + "/content"
	if variant != VariantVideo {
		path += "?variant=" + string(variant)
	}
	resp, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download %s %s: status %d", variant, id, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s %s: %w", variant, id, err)
	}
	return data, nil
}

func (r *Relay) Delete(ctx context.Context, id string) error {
	resp, err := r.do(ctx, http.MethodDelete, "/api/videos/"+id, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 400 {
		resp.Body.Close()
		return nil
	}

	status := resp.StatusCode
	raw, err := decodeBody(resp)
	if err != nil {
		return fmt.Errorf("delete %s: status %d", id, status)
	}
	if status == http.StatusConflict || stillProcessingBody(raw) {
		return ErrStillProcessing
	}
	return apiError("delete", status, raw)
}

// AuthStatus reports whether the relay demands a password and whether the
// currently stored hash is accepted. Valid is nil when no hash was sent.
type AuthStatus struct {
	PasswordRequired bool  `json:"passwordRequired"`
	Valid            *bool `json:"valid"`
}

func (r *Relay) FetchAuthStatus(ctx context.Context) (*AuthStatus, error) {
	resp, err := r.do(ctx, http.MethodGet, "/api/auth-status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("auth status: status %d", resp.StatusCode)
	}
	var st AuthStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode auth status: %w", err)
	}
	return &st, nil
}

// VerifyCredentials is fail-closed: a probe failure leaves the requirement
// unresolved and reports ErrCredentialRequired rather than assuming the relay
// is unprotected.
func (r *Relay) VerifyCredentials(ctx context.Context) error {
	st, err := r.FetchAuthStatus(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialRequired, err)
	}
	if !st.PasswordRequired {
		return nil
	}
	if r.hash() == "" {
		return ErrCredentialRequired
	}
	if st.Valid == nil || !*st.Valid {
		return ErrInvalidCredential
	}
	return nil
}
