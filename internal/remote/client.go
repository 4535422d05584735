// Package remote talks to the history REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("histsync/remote")

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "histsync"
	apiKeyHeader   = "x-api-key"
	maxErrorBody   = 4 << 10
)

// Client performs JSON requests against one API server.
type Client struct {
	client  *http.Client
	baseURL string
}

// New creates a Client for baseURL. An empty apiKey sends no key header.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &headerTransport{base: http.DefaultTransport, apiKey: apiKey},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// headerTransport stamps every request with the client identity.
type headerTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set(apiKeyHeader, t.apiKey)
	}
	return t.base.RoundTrip(req)
}

// BaseURL returns the server root requests are resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// Get fetches path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	ctx, span := tracer.Start(ctx, "Remote.Get")
	defer span.End()

	err := c.do(ctx, http.MethodGet, path, nil, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Send issues a request with a JSON body. A nil body sends none; a nil out
// or an empty response leaves out untouched.
func (c *Client) Send(ctx context.Context, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "Remote.Send")
	defer span.End()

	err := c.do(ctx, method, path, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	url := c.resolve(path)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)

	fail := func(status int, err error) error {
		return &FetchError{Method: method, URL: url, StatusCode: status, Err: err}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fail(0, fmt.Errorf("encoding request body: %w", err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fail(0, fmt.Errorf("creating request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return fail(resp.StatusCode, errors.New(text))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// resolve joins a server-relative path onto the base URL. Absolute URLs,
// such as detail links carried by records, are used as given.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
