package platform

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

// Client is an HTTP implementation of Poster, Pusher, and Directory against
// the hosting platform's internal API.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// NewClient creates a client with sane defaults.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError wraps non-2xx responses from the platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreatePost(ctx context.Context, title string) (Post, error) {
	var resp Post
	err := c.do(ctx, http.MethodPost, "posts", map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *Client) DeletePost(ctx context.Context, reference string) error {
	endpoint := fmt.Sprintf("posts/%s", url.PathEscape(reference))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) GetPost(ctx context.Context, reference string) (Post, error) {
	var resp Post
	endpoint := fmt.Sprintf("posts/%s", url.PathEscape(reference))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) EnqueueBatch(ctx context.Context, items []PushItem) error {
	return c.do(ctx, http.MethodPost, "push/batch", map[string]any{"items": items}, nil)
}

func (c *Client) AccountID(ctx context.Context, username string) (string, bool, error) {
	var resp struct {
		AccountID string `json:"account_id"`
	}
	endpoint := fmt.Sprintf("users/%s/account", url.PathEscape(username))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	if _, ok := asNotFound(err); ok {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return resp.AccountID, resp.AccountID != "", nil
}

func (c *Client) Timezone(ctx context.Context, username string) (string, bool, error) {
	var resp struct {
		Timezone string `json:"timezone"`
	}
	endpoint := fmt.Sprintf("users/%s/timezone", url.PathEscape(username))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	if _, ok := asNotFound(err); ok {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return resp.Timezone, resp.Timezone != "", nil
}

func asNotFound(err error) (*APIError, bool) {
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return apiErr, true
	}
	return nil, false
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
