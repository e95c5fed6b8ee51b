package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kbukum/imgflow/resilience"
)

// maxResponseBody caps how much of an answer is read.
const maxResponseBody = 1 << 20

// Request is one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is sent as is when it is []byte, otherwise JSON-encoded.
	Body any
}

// Response is a 2xx answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client sends requests with optional retry and circuit breaking.
type Client struct {
	http *http.Client
	cfg  Config
	cb   *resilience.Breaker
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for dev webhooks
	}
	c := &Client{
		http: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:  cfg,
	}
	if cfg.CircuitBreaker != nil {
		c.cb = resilience.NewBreaker(*cfg.CircuitBreaker)
	}
	return c, nil
}

// PostJSON posts v encoded as JSON to url.
func (c *Client) PostJSON(ctx context.Context, url string, v any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: url, Body: v})
}

// Do sends req, retrying when configured. Non-2xx answers are returned as
// *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encode(req.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: encode body: %w", err)
	}
	if c.cfg.Retry == nil {
		return c.attempt(ctx, req, body)
	}
	return resilience.Retry(ctx, *c.cfg.Retry, func() (*Response, error) {
		return c.attempt(ctx, req, body)
	})
}

// attempt sends once through the breaker. Only retryable failures count
// against the breaker: a 4xx answer means the endpoint is up.
func (c *Client) attempt(ctx context.Context, req Request, body []byte) (*Response, error) {
	if c.cb == nil {
		return c.send(ctx, req, body)
	}
	var (
		resp    *Response
		sendErr error
	)
	err := c.cb.Execute(func() error {
		resp, sendErr = c.send(ctx, req, body)
		if sendErr != nil && IsRetryable(sendErr) {
			return sendErr
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, err
	}
	return resp, sendErr
}

func (c *Client) send(ctx context.Context, req Request, body []byte) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, rd)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.cfg.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Timeout: isTimeout(ctx, err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: data}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func encode(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
