// Package loiterkiller is a best-effort HTTP client for the external
// vector-store-lifecycle delegate named in spec.md §4.3/§6: a local
// service that owns vector-store leases on behalf of sessions, renewing
// them while a session is active and GC'ing abandoned stores so the
// server itself doesn't have to track that bookkeeping. Every call here
// degrades to "not available" rather than failing the caller — the
// vector-store manager falls back to direct provider calls whenever this
// client reports itself disabled, per spec.md §4.3's "best-effort ...
// operations silently degrade to direct provider calls on any failure"
// contract. Grounded on the teacher's homeassistant/client.go shape
// (base URL validation, injected *http.Client, doJSON helper).
package loiterkiller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxResponseBytes = int64(1 << 20)

// Config configures the client.
type Config struct {
	BaseURL            string
	HealthCheckTimeout time.Duration
	RequestTimeout     time.Duration
	HTTPClient         *http.Client

	// RequestsPerSecond bounds outbound call rate so a misbehaving or
	// slow loiter-killer instance can't be hammered by a burst of
	// concurrent tool calls each trying to acquire/renew a store.
	RequestsPerSecond float64
}

// Client talks to the loiter-killer service. The zero value is not
// usable; construct with New. Once disabled (by New failing its health
// check, or by any request observing a connection failure), a Client
// stays disabled for the rest of the process per spec.md §4.3 — "the
// enabled flag is flipped off until next process restart".
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter

	enabled atomic.Bool
}

// AcquireResponse is the body of POST /session/{id}/acquire.
type AcquireResponse struct {
	VectorStoreID string   `json:"vector_store_id"`
	TrackedFiles  []string `json:"tracked_files"`
}

// New validates cfg and returns a Client. It does not probe the service;
// call HealthCheck before relying on Enabled.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("loiterkiller: base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("loiterkiller: invalid base_url %q", cfg.BaseURL)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
	return c, nil
}

// Enabled reports whether the client believes the service is reachable.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled.Load()
}

// disable permanently turns the client off for the rest of the process.
func (c *Client) disable() {
	c.enabled.Store(false)
}

// HealthCheck probes GET /health. On success it marks the client enabled;
// on any failure it stays (or becomes) disabled. The returned error is
// informational only — callers are never expected to treat it as fatal.
func (c *Client) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		c.disable()
		return err
	}
	c.enabled.Store(true)
	return nil
}

// Acquire calls POST /session/{id}/acquire, asking the loiter-killer to
// get-or-create the vector store owned by session id. protected marks a
// project-level store as exempt from GC per spec.md §3's vector-store
// ownership model.
func (c *Client) Acquire(ctx context.Context, sessionID string, protected bool) (*AcquireResponse, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("loiterkiller: disabled")
	}
	var out AcquireResponse
	body := map[string]any{"protected": protected}
	if err := c.doJSON(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/acquire", body, &out); err != nil {
		c.disable()
		return nil, err
	}
	return &out, nil
}

// AcquireForVectorStore adapts Acquire to the flat (id, tracked-paths,
// err) shape internal/vectorstore.Delegate expects, so that package
// doesn't need to import this one's response type.
func (c *Client) AcquireForVectorStore(ctx context.Context, sessionID string, protected bool) (string, []string, error) {
	resp, err := c.Acquire(ctx, sessionID, protected)
	if err != nil {
		return "", nil, err
	}
	return resp.VectorStoreID, resp.TrackedFiles, nil
}

// Register calls POST /session/{id}/register to hand the loiter-killer a
// store this process created directly (e.g. the project memory stores),
// so it participates in GC/protection bookkeeping going forward.
func (c *Client) Register(ctx context.Context, sessionID, vectorStoreID string, protected bool) error {
	if !c.Enabled() {
		return fmt.Errorf("loiterkiller: disabled")
	}
	body := map[string]any{"vector_store_id": vectorStoreID, "protected": protected}
	if err := c.doJSON(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/register", body, nil); err != nil {
		c.disable()
		return err
	}
	return nil
}

// Files calls POST /session/{id}/files to report which file paths have
// been uploaded to the session's store, so the loiter-killer can answer a
// future Acquire with the already-tracked set (enabling delta uploads).
func (c *Client) Files(ctx context.Context, sessionID string, filePaths []string) error {
	if !c.Enabled() {
		return fmt.Errorf("loiterkiller: disabled")
	}
	body := map[string]any{"file_paths": filePaths}
	if err := c.doJSON(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/files", body, nil); err != nil {
		c.disable()
		return err
	}
	return nil
}

// Renew calls POST /session/{id}/renew to extend the lease on a session's
// store while the session remains active.
func (c *Client) Renew(ctx context.Context, sessionID string) error {
	if !c.Enabled() {
		return fmt.Errorf("loiterkiller: disabled")
	}
	if err := c.doJSON(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/renew", nil, nil); err != nil {
		c.disable()
		return err
	}
	return nil
}

// Cleanup calls POST /cleanup to ask the loiter-killer to sweep abandoned,
// unprotected stores immediately rather than waiting for its own timer.
func (c *Client) Cleanup(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("loiterkiller: disabled")
	}
	if err := c.doJSON(ctx, http.MethodPost, "/cleanup", nil, nil); err != nil {
		c.disable()
		return err
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respOut any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("loiterkiller: rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("loiterkiller: encode request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("loiterkiller: create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("loiterkiller: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBytes))
	if err != nil {
		return fmt.Errorf("loiterkiller: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loiterkiller: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if respOut != nil && len(data) > 0 {
		if err := json.Unmarshal(data, respOut); err != nil {
			return fmt.Errorf("loiterkiller: decode response: %w", err)
		}
	}
	return nil
}
