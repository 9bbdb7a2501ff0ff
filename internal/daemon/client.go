package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client is an HTTP client for the daemon's POST /index, POST /query and
// GET /status endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a daemon client bound to cfg's listen address.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    "http://" + cfg.Addr(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// IsRunning reports whether the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Ping(ctx) == nil
}

// Ping checks that the daemon is responsive by calling GET /status with no
// repo_path.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping daemon: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Index calls POST /index.
func (c *Client) Index(ctx context.Context, req IndexRequest) (*IndexResponse, error) {
	var out IndexResponse
	if err := c.post(ctx, "/index", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query calls POST /query.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.post(ctx, "/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls GET /status?repo_path=....
func (c *Client) Status(ctx context.Context, repoPath string) (*StatusResponse, error) {
	u := c.baseURL + "/status?" + url.Values{"repo_path": {repoPath}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeDaemonError(resp)
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &out, nil
}

// post issues a JSON POST to path and decodes the response into out, or
// returns the daemon's classified error.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeDaemonError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeDaemonError reads an ErrorEnvelope body and turns it back into a
// *DaemonError for the caller to inspect with errors.As.
func decodeDaemonError(resp *http.Response) error {
	var env ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return &DaemonError{Code: env.Error.Code, Message: env.Error.Message, Details: env.Error.Details}
}
