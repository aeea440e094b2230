// Package invoker talks to the remote server that renders region content,
// stores selections and describes queries. Every call goes through one
// Client that applies rate limiting, a circuit breaker and retries.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pitabwire/dataregion/internal/config"
	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/model"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// Recorder receives metrics about remote calls. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordBackendRequest(endpoint string, status int, d time.Duration)
	RecordBackendRetry(endpoint string)
	SetBackendCircuitBreakerState(state float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendRequest(string, int, time.Duration) {}
func (nopRecorder) RecordBackendRetry(string)                      {}
func (nopRecorder) SetBackendCircuitBreakerState(float64)          {}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// Client executes requests against the remote server.
type Client struct {
	cfg      config.RemoteConfig
	base     *url.URL
	client   *http.Client
	breaker  *CircuitBreaker
	limiter  *rate.Limiter
	recorder Recorder
}

// NewClient creates a client for the server at cfg.BaseURL.
func NewClient(cfg config.RemoteConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invoker: invalid base URL %q", cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker:  NewCircuitBreakerFromConfig(cfg.CircuitBreaker),
		recorder: nopRecorder{},
	}
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		burst := rl.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker.OnStateChange(func(s BreakerState) {
		c.recorder.SetBackendCircuitBreakerState(s.Gauge())
	})
	return c, nil
}

// Breaker returns the client's circuit breaker.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// HealthCheck reports an error while the circuit breaker is open.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// response is a fully read HTTP response.
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// call describes one logical request. GET requests carry params in the
// query string, POST requests as a form body.
type call struct {
	endpoint string
	method   string
	params   url.Values
}

// do executes c with rate limiting, retries and tracing. A non-2xx final
// status is turned into an error.
func (c *Client) do(ctx context.Context, cl call) (resp response, err error) {
	ctx, span := observability.StartSpan(ctx, "invoker."+cl.endpoint,
		observability.AttrEndpoint.String(cl.endpoint))
	defer func() { observability.EndSpanWithError(span, err) }()

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			if ctx.Err() != nil {
				return response{}, model.NewBackendTimeoutError()
			}
			return response{}, model.NewRateLimitedError()
		}
	}

	start := time.Now()
	resp, err = c.executeWithRetry(ctx, cl)
	// Status is 0 when no response was received.
	c.recorder.RecordBackendRequest(cl.endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return response{}, err
	}
	if resp.StatusCode >= 400 {
		logErrorBody(ctx, cl.endpoint, resp)
		return resp, errorForStatus(resp)
	}
	return resp, nil
}

// logErrorBody logs a JSON error payload at debug level with sensitive
// members redacted.
func logErrorBody(ctx context.Context, endpoint string, resp response) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return
	}
	slog.DebugContext(ctx, "invoker: remote error response",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"body", observability.RedactBody(body, nil),
	)
}

// executeWithRetry wraps executeOnce with retry logic and exponential backoff.
func (c *Client) executeWithRetry(ctx context.Context, cl call) (response, error) {
	retryCfg := c.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	canRetry := isIdempotentMethod(cl.method) || !retryCfg.IdempotentOnly

	var lastErr error
	var lastResp response

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.recorder.RecordBackendRetry(cl.endpoint)
			delay := calculateBackoff(retryCfg, attempt)
			select {
			case <-ctx.Done():
				return response{}, model.NewBackendTimeoutError()
			case <-time.After(delay):
			}
		}

		resp, err := c.executeOnce(ctx, cl)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return response{}, err
			}
			slog.Debug("invoker: retrying after error",
				"endpoint", cl.endpoint,
				"attempt", attempt+1,
				"max", maxAttempts,
				"error", err,
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && canRetry && attempt < maxAttempts-1 {
			lastResp = resp
			slog.Debug("invoker: retrying after status",
				"endpoint", cl.endpoint,
				"attempt", attempt+1,
				"max", maxAttempts,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	if lastErr != nil {
		return response{}, lastErr
	}
	return lastResp, nil
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (c *Client) executeOnce(ctx context.Context, cl call) (response, error) {
	if err := c.breaker.Allow(); err != nil {
		return response{}, model.NewBackendUnavailableError()
	}

	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return response{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if ctx.Err() != nil {
			return response{}, model.NewBackendTimeoutError()
		}
		if isConnectionError(err) {
			return response{}, model.NewBackendUnavailableError()
		}
		return response{}, fmt.Errorf("invoker: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return response{}, fmt.Errorf("invoker: read response: %w", err)
	}

	if isServerError(resp.StatusCode) {
		c.breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		// 4xx are not infrastructure failures.
		c.breaker.RecordSuccess()
	}

	return response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimPrefix(cl.endpoint, "/")

	var body io.Reader
	if cl.method == http.MethodGet {
		u.RawQuery = cl.params.Encode()
	} else {
		body = strings.NewReader(cl.params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	observability.InjectTraceHeaders(ctx, req.Header)
	return req, nil
}

// decodeJSON unmarshals a response body, reporting a server exception if the
// body carries one.
func decodeJSON(resp response, v any) error {
	if exc := exceptionOf(resp.Body); exc != "" {
		return model.NewServerExceptionError(exc)
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("invoker: decode response: %w", err)
	}
	return nil
}

// exceptionOf returns the "exception" member of a JSON object body, or "".
func exceptionOf(body []byte) string {
	var payload struct {
		Exception string `json:"exception"`
	}
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return ""
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return ""
	}
	return payload.Exception
}

// errorForStatus converts a 4xx or 5xx response into an error envelope.
func errorForStatus(resp response) error {
	if exc := exceptionOf(resp.Body); exc != "" {
		return model.NewServerExceptionError(exc)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.NewNotFoundError("remote resource not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.NewRateLimitedError()
	case resp.StatusCode == http.StatusGatewayTimeout:
		return model.NewBackendTimeoutError()
	case isServerError(resp.StatusCode):
		return model.NewBackendUnavailableError()
	default:
		return model.NewBadRequestError(fmt.Sprintf("remote rejected request with status %d", resp.StatusCode))
	}
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Breaker and timeout envelopes are final.
	var env *model.ErrorEnvelope
	return !errors.As(err, &env)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
