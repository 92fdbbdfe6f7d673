// Package upstream talks to the real Runtime API on the proxy's behalf:
// pulling the next invocation, reporting results, and forwarding anything
// the proxy does not specifically understand.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const basePath = "/2018-06-01/runtime/invocation"

// droppedHeaders are stripped from every request this client sends upstream:
// host framing is recomputed by net/http, and content-length is derived from
// the body we actually send. Upstream responses are not filtered here.
var droppedHeaders = map[string]struct{}{
	"host":           {},
	"content-length": {},
}

// Event is one invocation pulled from upstream's next endpoint.
type Event struct {
	RequestID  string
	DeadlineMs int64
	Headers    http.Header
	Body       []byte
}

// Client wraps an *http.Client bound to the upstream Runtime API's
// authority, as given by _ORIGINAL_RUNTIME_API.
type Client struct {
	HTTPClient *http.Client
	Authority  string
}

// New builds a Client for the given authority (host:port, no scheme).
func New(authority string) *Client {
	return &Client{HTTPClient: http.DefaultClient, Authority: authority}
}

func (c *Client) url(path string) string {
	return "http://" + c.Authority + path
}

// Next pulls the next event from upstream's GET .../invocation/next.
func (c *Client) Next(ctx context.Context) (Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(basePath+"/next"), nil)
	if err != nil {
		return Event{}, fmt.Errorf("build next request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Event{}, fmt.Errorf("fetch next invocation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Event{}, fmt.Errorf("read next invocation body: %w", err)
	}

	deadline, _ := strconv.ParseInt(resp.Header.Get("Lambda-Runtime-Deadline-Ms"), 10, 64)

	return Event{
		RequestID:  resp.Header.Get("Lambda-Runtime-Aws-Request-Id"),
		DeadlineMs: deadline,
		Headers:    resp.Header.Clone(),
		Body:       body,
	}, nil
}

// PostResponse reports a successful result for id.
func (c *Client) PostResponse(ctx context.Context, id string, headers http.Header, body []byte) (*http.Response, error) {
	return c.post(ctx, fmt.Sprintf("%s/%s/response", basePath, id), headers, body)
}

// PostError reports a failed result for id.
func (c *Client) PostError(ctx context.Context, id string, headers http.Header, body []byte) (*http.Response, error) {
	return c.post(ctx, fmt.Sprintf("%s/%s/error", basePath, id), headers, body)
}

func (c *Client) post(ctx context.Context, path string, headers http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	copyForwardableHeaders(req.Header, headers)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	return resp, nil
}

// Forward relays an arbitrary request to upstream, verbatim except for the
// dropped headers, for the passthrough route.
func (c *Client) Forward(ctx context.Context, method, path string, headers http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	copyForwardableHeaders(req.Header, headers)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward request: %w", err)
	}
	return resp, nil
}

// ForwardableHeaders returns a copy of src with host/content-length removed,
// for callers that need the filtered set without issuing a request (e.g.
// capturing a runtime request's headers for later use).
func ForwardableHeaders(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, v := range src {
		if _, dropped := droppedHeaders[strings.ToLower(k)]; dropped {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyForwardableHeaders(dst, src http.Header) {
	for k, values := range src {
		if _, dropped := droppedHeaders[strings.ToLower(k)]; dropped {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
