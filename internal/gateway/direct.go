package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sorabox/sorabox/internal/job"
)

// Direct calls the provider API with a Bearer key. It first speaks the
// OpenAI-style /videos endpoints and falls back across the candidate paths
// some gateway clones use instead.
type Direct struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	apiKey string
}

func NewDirect(baseURL, apiKey string) *Direct {
	return &Direct{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// SetAPIKey replaces the credential at runtime (user-supplied key).
func (d *Direct) SetAPIKey(key string) {
	d.mu.Lock()
	d.apiKey = key
	d.mu.Unlock()
}

// APIKey returns the currently configured key.
func (d *Direct) APIKey() string {
	return d.key()
}

func (d *Direct) key() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.apiKey
}

func (d *Direct) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.key())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrInvalidCredential
	}
	return resp, nil
}

// decodeBody reads and decodes a JSON body into a generic map.
func decodeBody(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	raw := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return raw, nil
}

// invalidKeyCode matches the provider's distinguished rejection code, which
// some gateways return with a 200-level transport status.
func isInvalidKey(raw map[string]any) bool {
	e, ok := raw["error"].(map[string]any)
	if !ok {
		return false
	}
	code, _ := e["code"].(string)
	return code == "invalid_api_key"
}

func (d *Direct) Create(ctx context.Context, p CreateParams) (*job.Job, error) {
	if d.key() == "" {
		return nil, ErrCredentialRequired
	}

	resp, err := d.do(ctx, http.MethodPost, "/videos", map[string]any{
		"model":   p.Model,
		"prompt":  p.Prompt,
		"size":    p.Size,
		"seconds": strconv.Itoa(p.Seconds),
	})
	if err != nil {
		return nil, err
	}

	// Some gateways only expose the older generations route.
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		resp, err = d.do(ctx, http.MethodPost, "/video/generations", map[string]any{
			"model":      p.Model,
			"prompt":     p.Prompt,
			"duration":   p.Seconds,
			"resolution": p.Size,
		})
		if err != nil {
			return nil, err
		}
	}

	status := resp.StatusCode
	raw, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if isInvalidKey(raw) {
		return nil, ErrInvalidCredential
	}
	if status >= 400 {
		return nil, apiError("create", status, raw)
	}

	n := Normalize(raw)
	if n.ID == "" {
		return nil, fmt.Errorf("create: provider returned no job id")
	}
	return jobFromNormalized(n, p), nil
}

func (d *Direct) Remix(ctx context.Context, sourceID, prompt string) (*job.Job, error) {
	if d.key() == "" {
		return nil, ErrCredentialRequired
	}

	resp, err := d.do(ctx, http.MethodPost, "/videos/"+sourceID+"/remix", map[string]any{
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
	if isInvalidKey(raw) {
		return nil, ErrInvalidCredential
	}
	if status >= 400 {
		return nil, apiError("remix", status, raw)
	}

	n := Normalize(raw)
	if n.ID == "" {
		return nil, fmt.Errorf("remix: provider returned no job id")
	}
	j := jobFromNormalized(n, CreateParams{Prompt: prompt})
	j.RemixOf = sourceID
	return j, nil
}

// retrievePaths are tried in order until one answers; 404/405/415 mean the
// gateway does not serve that path and the next candidate is tried.
func retrievePaths(id string) []string {
	return []string{
		"/videos/" + id,
		"/video/generations/" + id,
		"/responses/" + id,
	}
}

func (d *Direct) Retrieve(ctx context.Context, id string) (*job.Job, error) {
	if d.key() == "" {
		return nil, ErrCredentialRequired
	}

	var lastErr error
	for _, path := range retrievePaths(id) {
		resp, err := d.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			if err == ErrInvalidCredential {
				return nil, err
			}
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusNotFound ||
			resp.StatusCode == http.StatusMethodNotAllowed ||
			resp.StatusCode == http.StatusUnsupportedMediaType {
			resp.Body.Close()
			continue
		}

		status := resp.StatusCode
		raw, err := decodeBody(resp)
		if err != nil {
			lastErr = err
			continue
		}
		if isInvalidKey(raw) {
			return nil, ErrInvalidCredential
		}
		if status >= 400 {
			lastErr = apiError("retrieve", status, raw)
			continue
		}

		n := Normalize(raw)
		if n.ID == "" {
			n.ID = id
		}
		return jobFromNormalized(n, CreateParams{}), nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate path answered for job %s", id)
	}
	return nil, fmt.Errorf("retrieve %s: %w", id, lastErr)
}

func (d *Direct) DownloadContent(ctx context.Context, id string, variant Variant) ([]byte, error) {
	if d.key() == "" {
		return nil, ErrCredentialRequired
	}

	path := "/videos/" + id + "/content"
	if variant != VariantVideo {
		path += "?variant=" + string(variant)
	}
	resp, err := d.do(ctx, http.MethodGet, path, nil)
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

func (d *Direct) Delete(ctx context.Context, id string) error {
	if d.key() == "" {
		return ErrCredentialRequired
	}

	resp, err := d.do(ctx, http.MethodDelete, "/videos/"+id, nil)
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
	if isInvalidKey(raw) {
		return ErrInvalidCredential
	}
	if status == http.StatusConflict || stillProcessingBody(raw) {
		return ErrStillProcessing
	}
	return apiError("delete", status, raw)
}

// VerifyCredentials probes the model-listing capability, which every provider
// exposes and which fails with the distinguished credential error on a bad key.
func (d *Direct) VerifyCredentials(ctx context.Context) error {
	if d.key() == "" {
		return ErrCredentialRequired
	}
	resp, err := d.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("verify credentials: status %d", resp.StatusCode)
	}
	return nil
}

func jobFromNormalized(n Normalized, p CreateParams) *job.Job {
	j := &job.Job{
		ID:        n.ID,
		CreatedAt: n.CreatedAt,
		Status:    n.Status,
		Progress:  n.Progress,
		Model:     n.Model,
		Size:      n.Size,
		Seconds:   n.Seconds,
		Prompt:    p.Prompt,
		Error:     n.Error,
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Model == "" {
		j.Model = p.Model
	}
	if j.Size == "" {
		j.Size = p.Size
	}
	if j.Seconds == 0 {
		j.Seconds = p.Seconds
	}
	return j
}

func apiError(op string, status int, raw map[string]any) error {
	n := Normalize(raw)
	if n.Error != nil {
		return fmt.Errorf("%s: status %d: %s", op, status, n.Error.Message)
	}
	return fmt.Errorf("%s: status %d", op, status)
}

func stillProcessingBody(raw map[string]any) bool {
	n := Normalize(raw)
	if n.Error == nil {
		return false
	}
	return n.Error.Code == "video_still_processing" ||
		containsStillProcessing(n.Error.Message)
}

func containsStillProcessing(msg string) bool {
	return strings.Contains(msg, "still being processed") ||
		strings.Contains(msg, "still processing")
}
