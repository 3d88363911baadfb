// Package transport is the REST adapter for the chapter platform API.
//
// Every call captures the bearer token at issue time, so a logout never
// retroactively changes a request already in flight, and maps failures to the
// *Error taxonomy. The adapter never retries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/acmxim/envoy/pkg/logger"
)

// TokenSource supplies the current bearer token ("" when logged out).
type TokenSource interface {
	Token() string
}

// Client issues authenticated REST calls.
type Client struct {
	mu         sync.Mutex
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a client for the API rooted at baseURL (for example
// "http://localhost:5000/api").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource configures where bearer tokens come from.
func (c *Client) SetTokenSource(src TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = src
}

// call is one request. token overrides the token source when explicit is set.
type call struct {
	method   string
	path     string
	body     any
	out      any
	token    string
	explicit bool
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	src := c.tokens
	c.mu.Unlock()
	if src == nil {
		return ""
	}
	return src.Token()
}

func (c *Client) do(ctx context.Context, req call) error {
	op := req.method + " " + req.path

	c.mu.Lock()
	baseURL := c.baseURL
	client := c.httpClient
	c.mu.Unlock()

	if baseURL == "" {
		return &Error{Kind: KindNetworkUnavailable, Op: op, Err: fmt.Errorf("server URL not set")}
	}

	token := req.token
	if !req.explicit {
		token = c.currentToken()
	}

	var reader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return &Error{Kind: KindBadRequest, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, baseURL+req.path, reader)
	if err != nil {
		return &Error{Kind: KindBadRequest, Op: op, Err: err}
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	logger.Tracef("http %s (auth=%t)", op, token != "")

	resp, err := client.Do(httpReq)
	if err != nil {
		logger.Debugf("http %s failed: %v", op, err)
		return classifyDoErr(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyDoErr(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := kindForStatus(resp.StatusCode)
		logger.Debugf("http %s -> %d (%s)", op, resp.StatusCode, kind)
		return &Error{
			Kind:    kind,
			Op:      op,
			Status:  resp.StatusCode,
			Message: serverMessage(respBody),
		}
	}

	if req.out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, req.out); err != nil {
		return &Error{Kind: KindServerError, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// serverMessage extracts {"message": "..."} or {"error": "..."} bodies, and
// falls back to a short raw excerpt.
func serverMessage(body []byte) string {
	var decoded struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		switch {
		case decoded.Message != "":
			return decoded.Message
		case decoded.Error != "":
			return decoded.Error
		case decoded.Msg != "":
			return decoded.Msg
		}
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return raw
}

func pathID(prefix, id string) string {
	return prefix + url.PathEscape(id)
}
