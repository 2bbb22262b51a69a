package adapter

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/retry"
	"github.com/funnel-metrics/internal/types"
)

// maxErrorBody caps how much of a non-JSON error body is echoed back
const maxErrorBody = 300

// ClientConfig configures the outbound HTTP behaviour of one connector
type ClientConfig struct {
	HTTPClient        *http.Client // optional; overrides Timeout
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	RetryDelay        time.Duration
}

// DefaultClientConfig returns conservative defaults for vendor APIs
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxAttempts:       3,
		RetryDelay:        500 * time.Millisecond,
	}
}

// APIClient performs JSON calls against one vendor. Every call is throttled
// by a per-connector limiter. Calls that only read are retried with backoff
// on 429 and 503 responses; everything else is sent once.
type APIClient struct {
	platform types.Platform
	http     *http.Client
	limiter  *rate.Limiter
	retry    *retry.RetryConfig
}

// NewAPIClient creates a client for platform
func NewAPIClient(platform types.Platform, cfg ClientConfig) *APIClient {
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &APIClient{
		platform: platform,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retry: &retry.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			ShouldRetry:  isTransient,
		},
	}
}

// HTTPClient returns the underlying client, used for token exchanges
func (c *APIClient) HTTPClient() *http.Client {
	return c.http
}

// Request describes one vendor call
type Request struct {
	Operation string // names the call in errors and logs
	Method    string
	URL       string
	Query     url.Values
	Header    http.Header
	JSON      interface{} // encoded as the request body when set
	Form      url.Values  // encoded as the request body when set
	BasicUser string
	BasicPass string
	// ReadOnly marks a POST that only queries data, such as a report or
	// search call, so it can be retried like a GET
	ReadOnly bool
}

// retryable reports whether sending req twice is safe
func (req Request) retryable() bool {
	switch req.Method {
	case "", http.MethodGet, http.MethodHead:
		return true
	}
	return req.ReadOnly
}

// Response is what callers get back besides the decoded body
type Response struct {
	StatusCode int
	Header     http.Header
}

// Do sends req, decodes a 2xx JSON body into out (when out is non-nil) and
// returns a *errors.ConnectorError for every failure.
func (c *APIClient) Do(ctx context.Context, req Request, out interface{}) (*Response, error) {
	if !req.retryable() {
		resp, err := c.doOnce(ctx, req, out)
		if err != nil {
			return resp, c.asConnectorError(req.Operation, err)
		}
		return resp, nil
	}

	var resp *Response
	result := retry.WithExponentialBackoff(ctx, c.retry, func(ctx context.Context, attempt int) error {
		r, err := c.doOnce(ctx, req, out)
		resp = r
		return err
	})
	if result.Success {
		return resp, nil
	}
	return resp, c.asConnectorError(req.Operation, result.LastError)
}

func (c *APIClient) doOnce(ctx context.Context, req Request, out interface{}) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, &errors.ConnectorError{
			Platform:  c.platform,
			Operation: req.Operation,
			Message:   err.Error(),
			Cause:     err,
		}
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &errors.ConnectorError{
			Platform:  c.platform,
			Operation: req.Operation,
			Message:   err.Error(),
			Cause:     err,
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header}
	if err != nil {
		return resp, &errors.ConnectorError{
			Platform:   c.platform,
			Operation:  req.Operation,
			HTTPStatus: httpResp.StatusCode,
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			Cause:      err,
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"platform":  c.platform,
		"operation": req.Operation,
		"status":    httpResp.StatusCode,
		"duration":  time.Since(start).String(),
	}).Debug("Vendor call completed")

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		connErr := &errors.ConnectorError{
			Platform:   c.platform,
			Operation:  req.Operation,
			HTTPStatus: httpResp.StatusCode,
			Message:    VendorMessage(body, httpResp.StatusCode),
		}
		if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
			connErr.Kind = errors.KindAuth
		}
		return resp, connErr
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, &errors.ConnectorError{
				Platform:   c.platform,
				Operation:  req.Operation,
				HTTPStatus: httpResp.StatusCode,
				Message:    fmt.Sprintf("unparsable response body: %v", err),
				Cause:      err,
			}
		}
	}
	return resp, nil
}

func (c *APIClient) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.BasicUser != "" || req.BasicPass != "" {
		httpReq.SetBasicAuth(req.BasicUser, req.BasicPass)
	}
	return httpReq, nil
}

func (c *APIClient) asConnectorError(operation string, err error) error {
	var connErr *errors.ConnectorError
	if stderrors.As(err, &connErr) {
		return connErr
	}
	return &errors.ConnectorError{
		Platform:  c.platform,
		Operation: operation,
		Message:   err.Error(),
		Cause:     err,
	}
}

// isTransient reports rate-limit and unavailable responses, the only ones
// worth repeating
func isTransient(err error) bool {
	var connErr *errors.ConnectorError
	if !stderrors.As(err, &connErr) {
		return false
	}
	return connErr.HTTPStatus == http.StatusTooManyRequests || connErr.HTTPStatus == http.StatusServiceUnavailable
}

// VendorMessage extracts the human readable error text a vendor put in an
// error body. It understands the common shapes: OAuth error_description,
// problem+json detail, message, {"error":{"message"}}, errors as string,
// object or list. Falls back to the trimmed raw body, then the status text.
func VendorMessage(body []byte, status int) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(trimmed, &decoded); err == nil {
			if msg := messageFrom(decoded); msg != "" {
				return msg
			}
		}
		raw := string(trimmed)
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody] + "..."
		}
		if !strings.HasPrefix(raw, "<") {
			return raw
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

func messageFrom(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []interface{}:
		for _, item := range val {
			if msg := messageFrom(item); msg != "" {
				return msg
			}
		}
	case map[string]interface{}:
		for _, key := range []string{"error_description", "detail", "message"} {
			if s, ok := val[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		for _, key := range []string{"error", "errors"} {
			if nested, ok := val[key]; ok {
				if msg := messageFrom(nested); msg != "" {
					return msg
				}
			}
		}
		if s, ok := val["title"].(string); ok {
			return strings.TrimSpace(s)
		}
		// e.g. {"errors":{"shop_domain":["is invalid"]}}; keys are walked in
		// sorted order so the same body always yields the same message
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if msg := messageFrom(val[key]); msg != "" {
				return key + " " + msg
			}
		}
	}
	return ""
}
