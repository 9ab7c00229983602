package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/trophy/internal/domain/model"
	"github.com/okian/trophy/internal/domain/types"
)

// client wraps http.Client with the base URL and optional bearer token.
type client struct {
	http    *http.Client
	baseURL string
	token   string
}

func newClient(baseURL, token string, timeout time.Duration) *client {
	return &client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		token:   token,
	}
}

// statusError reports an unexpected HTTP status with the response body.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

func (c *client) do(ctx context.Context, method, path string, body any, want []int, out any) (int, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	ok := false
	for _, s := range want {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return resp.StatusCode, &statusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, []int{http.StatusOK}, nil)
	return err
}

type ack struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

func (c *client) submit(ctx context.Context, rec model.StudentRecord) (ack, error) {
	var a ack
	_, err := c.do(ctx, http.MethodPost, "/students", rec, []int{http.StatusAccepted, http.StatusOK}, &a)
	return a, err
}

func (c *client) rank(ctx context.Context, urn string) (types.Entry, error) {
	var e types.Entry
	_, err := c.do(ctx, http.MethodGet, "/rank/"+url.PathEscape(urn), nil, []int{http.StatusOK}, &e)
	return e, err
}

func (c *client) leaderboard(ctx context.Context, n int) ([]types.Entry, error) {
	var entries []types.Entry
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/leaderboard?limit=%d", n), nil, []int{http.StatusOK}, &entries)
	return entries, err
}
