// Package client talks to a chatrelay server: GraphQL queries, streamed completions and
// image uploads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client communicates with a chatrelay server.
type Client struct {
	baseURL    *url.URL
	httpClient HTTPClient
	token      string
	logger     *log.Logger
}

// New constructs a client using the provided base URL. A nil httpClient gets a default
// without an overall timeout so streams are not cut off.
func New(baseURL string, httpClient HTTPClient) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second}}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) { c.token = strings.TrimSpace(token) }

// SetLogger enables debug logging of requests.
func (c *Client) SetLogger(l *log.Logger) { c.logger = l }

// errorResponse matches the standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) endpoint(path string) string {
	rel := &url.URL{Path: strings.TrimLeft(path, "/")}
	return c.baseURL.ResolveReference(rel).String()
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.logger != nil {
		c.logger.Printf("%s %s", req.Method, req.URL.Path)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errPayload errorResponse
	if err := json.Unmarshal(data, &errPayload); err == nil && strings.TrimSpace(errPayload.Error) != "" {
		return &StatusError{Code: resp.StatusCode, Message: errPayload.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chatrelay error: %s (status %d)", e.Message, e.Code)
}

func jsonBody(payload any) (io.Reader, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}
