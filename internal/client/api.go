// Package client talks to a running crankqueue server: it requests batches,
// polls status and renders what it gets back as text, JSON or a live
// terminal dashboard.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/crankqueue/internal/server"
)

const maxErrorBodyBytes = 1024

// ResponseError is returned for non-2xx answers from the server.
type ResponseError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return e.Status
}

// Client calls the control API rooted at a base URI.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for base, e.g. "http://localhost:8080".
func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Produce asks the server to enqueue count messages. A concurrency of zero
// leaves the server's limit unchanged.
func (c *Client) Produce(ctx context.Context, count, concurrency int) (server.MessagesResponse, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	if concurrency > 0 {
		q.Set("concurrency", strconv.Itoa(concurrency))
	}
	var out server.MessagesResponse
	err := c.do(ctx, http.MethodPost, "/messages?"+q.Encode(), &out)
	return out, err
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (server.StatusResponse, error) {
	var out server.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			snippet := body
			if len(snippet) > maxErrorBodyBytes {
				snippet = snippet[:maxErrorBodyBytes]
			}
			msg = strings.TrimSpace(string(snippet))
		}
		return &ResponseError{StatusCode: resp.StatusCode, Status: resp.Status, Message: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
