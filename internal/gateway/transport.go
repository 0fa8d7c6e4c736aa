package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Response is a raw transport response.
type Response struct {
	Status int
	Body   []byte
}

// Transport performs one request. It knows nothing about the wire shapes;
// body is JSON or nil and token is empty for anonymous calls.
//
// An error return means no response was received (dial failure, timeout,
// cancelled context). Any HTTP status, including 5xx, is a Response.
type Transport interface {
	Send(ctx context.Context, method, path string, body []byte, token string) (*Response, error)
}

// HTTPTransport sends requests to a base URL over net/http.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client

	// Timeout bounds each request. Zero leaves only the context deadline.
	Timeout time.Duration
}

// NewHTTPTransport creates a transport for baseURL with a per-request timeout.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
		Timeout: timeout,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, method, path string, body []byte, token string) (*Response, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}
