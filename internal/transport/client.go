// Package transport issues HTTP requests to the local agent server.
//
// Conduit uses HTTP REST for commands and a single streaming GET for
// the SSE event feed. Non-streaming responses are buffered fully before
// they are returned; the streaming GET hands back the live body instead.
// Every call honors its context: cancelling the context tears down the
// underlying connection immediately.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds every non-streaming request independently of
// the caller's context.
const DefaultTimeout = 30 * time.Second

// ErrRequestTimeout marks a request that hit the per-request deadline
// rather than the caller's cancellation.
var ErrRequestTimeout = errors.New("request timed out")

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response has a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns an error describing a non-2xx response, nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	msg := strings.TrimSpace(string(r.Body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = http.StatusText(r.StatusCode)
	}
	return fmt.Errorf("server returned %d: %s", r.StatusCode, msg)
}

// DecodeJSON unmarshals the buffered body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client talks to one agent server base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	stream  *http.Client
}

// New creates a client for baseURL (e.g. "http://127.0.0.1:4096").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: DefaultTimeout,
		// Per-request deadlines are applied via context so that the
		// streaming client can share transport state without a global
		// timeout cutting the event feed.
		http:   &http.Client{},
		stream: &http.Client{},
	}
}

// SetTimeout overrides the per-request timeout for non-streaming calls.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// BaseURL returns the server base URL this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs one buffered HTTP exchange. A nil body sends no payload;
// otherwise body is marshalled as JSON.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = int64(len(payload))
		req.Header.Set("Content-Length", strconv.Itoa(len(payload)))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	buffered, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, fmt.Errorf("failed to read response: %w", err))
	}

	return &Response{StatusCode: resp.StatusCode, Body: buffered}, nil
}

// Stream opens a streaming GET and returns the live body. The caller
// owns the ReadCloser; cancelling ctx also tears the connection down.
// No per-request timeout applies.
func (c *Client) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp.Body, nil
}

// classify maps a transport failure to ErrRequestTimeout when the
// per-request deadline fired but the caller's context is still live.
func (c *Client) classify(callerCtx, reqCtx context.Context, err error) error {
	if reqCtx.Err() == context.DeadlineExceeded && callerCtx.Err() == nil {
		return fmt.Errorf("%w after %s: %v", ErrRequestTimeout, c.timeout, err)
	}
	return err
}
