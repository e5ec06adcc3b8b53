package galaxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// HTTPClient talks to the resource platform's JSON API.
type HTTPClient struct {
	base string
	hc   *http.Client
}

func NewHTTPClient(address string) *HTTPClient {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &HTTPClient{
		base: strings.TrimSuffix(base, "/"),
		hc:   &http.Client{Timeout: requestTimeout},
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

func (c *HTTPClient) SubmitJob(ctx context.Context, spec PodGroupSpec) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/jobs", spec)
	if err != nil {
		return "", err
	}
	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("galaxy: decode submit response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("galaxy: submit returned empty job id")
	}
	return resp.ID, nil
}

func (c *HTTPClient) UpdateJob(ctx context.Context, id string, update PodGroupUpdate) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/jobs/"+url.PathEscape(id), update)
	return err
}

func (c *HTTPClient) KillJob(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(id), nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("galaxy: encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("galaxy: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("galaxy: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("galaxy: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("galaxy: %s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
