package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/voxcal/internal/intent"
)

const defaultHTTPTimeout = 10 * time.Second

var _ Executor = (*HTTPExecutor)(nil)

// HTTPExecutor posts intents as JSON to a calendar service and decodes the
// ActionResult it answers with.
//
// Request body:
//
//	{"command": "create_event", "params": [{"name": "title", "value": "meeting"}], "confidence": 1}
//
// Params keep template order and may repeat a name.
//
// The service answers 200 with an ActionResult body. Any other status is an
// executor failure.
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
	headers  http.Header
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExecutor) { e.client = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExecutor) {
		if d > 0 {
			e.client = &http.Client{Timeout: d}
		}
	}
}

// WithHeader adds a header to every request, e.g. an API token.
func WithHeader(key, value string) HTTPOption {
	return func(e *HTTPExecutor) { e.headers.Add(key, value) }
}

// NewHTTP returns an executor posting to endpoint.
func NewHTTP(endpoint string, opts ...HTTPOption) (*HTTPExecutor, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("executor: endpoint must not be empty")
	}
	e := &HTTPExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		headers:  make(http.Header),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type httpRequest struct {
	Command    string            `json:"command"`
	Params     []intent.Param `json:"params,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Execute implements Executor.
func (e *HTTPExecutor) Execute(ctx context.Context, in intent.Intent) (ActionResult, error) {
	body := httpRequest{Command: in.Command, Params: in.Params, Confidence: in.Confidence}
	buf, err := json.Marshal(body)
	if err != nil {
		return ActionResult{}, fmt.Errorf("executor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(buf))
	if err != nil {
		return ActionResult{}, fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range e.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return ActionResult{}, fmt.Errorf("executor: %s: %w", in.Command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ActionResult{}, fmt.Errorf("executor: %s: status %d: %s", in.Command, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var res ActionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return ActionResult{}, fmt.Errorf("executor: %s: decode response: %w", in.Command, err)
	}
	return res, nil
}
