package invoker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pitabwire/dataregion/internal/config"
	"github.com/pitabwire/dataregion/model"
)

func defaultRemoteConfig(baseURL string) config.RemoteConfig {
	return config.RemoteConfig{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 1,
		},
	}
}

func newTestClient(t *testing.T, cfg config.RemoteConfig, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(cfg, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []int
	retries  int
	states   []float64
}

func (r *fakeRecorder) RecordBackendRequest(_ string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, status)
}

func (r *fakeRecorder) RecordBackendRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *fakeRecorder) SetBackendCircuitBreakerState(s float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func errorCode(err error) string {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

func get(ctx context.Context, c *Client) (response, error) {
	return c.do(ctx, call{endpoint: EndpointGetSelected, method: http.MethodGet})
}

func TestNewClient_invalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "not-a-url", "/relative"} {
		if _, err := NewClient(config.RemoteConfig{BaseURL: u}); err == nil {
			t.Errorf("NewClient(%q) should fail", u)
		}
	}
}

// --- Request building ---

func TestClient_joinsBasePathAndEndpoint(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, defaultRemoteConfig(server.URL+"/labkey/home/"))
	_, err := c.do(context.Background(), call{
		endpoint: EndpointGetSelected,
		method:   http.MethodGet,
		params:   map[string][]string{"key": {"k1"}},
	})
	if err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if gotPath != "/labkey/home/query/getSelected.api" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "key=k1" {
		t.Errorf("query = %q, want key=k1", gotQuery)
	}
}

func TestClient_postSendsForm(t *testing.T) {
	var gotType string
	var gotIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		r.ParseForm()
		gotIDs = r.PostForm["id"]
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, defaultRemoteConfig(server.URL))
	_, err := c.do(context.Background(), call{
		endpoint: EndpointSetSelected,
		method:   http.MethodPost,
		params:   map[string][]string{"id": {"1", "2"}},
	})
	if err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if gotType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if len(gotIDs) != 2 || gotIDs[0] != "1" || gotIDs[1] != "2" {
		t.Errorf("ids = %v, want [1 2]", gotIDs)
	}
}

func TestClient_forwardsCorrelationID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Correlation-Id")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, defaultRemoteConfig(server.URL))
	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SessionID:     "s",
		PageID:        "p",
		CorrelationID: "corr\r\n-1",
	})
	if _, err := get(ctx, c); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if got != "corr-1" {
		t.Errorf("X-Correlation-Id = %q, want sanitised corr-1", got)
	}
}

// --- Status mapping ---

func TestClient_statusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"exception wins", http.StatusBadRequest, `{"exception":"Query 'x' not found"}`, model.ErrServerException},
		{"not found", http.StatusNotFound, ``, model.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, ``, model.ErrRateLimited},
		{"bad request", http.StatusUnauthorized, `denied`, model.ErrBadRequest},
		{"server error", http.StatusInternalServerError, ``, model.ErrBackendUnavailable},
		{"gateway timeout", http.StatusGatewayTimeout, ``, model.ErrBackendTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, defaultRemoteConfig(server.URL))
			_, err := get(context.Background(), c)
			if got := errorCode(err); got != tt.want {
				t.Errorf("error = %v, want code %s", err, tt.want)
			}
		})
	}
}

// --- Circuit breaker ---

func TestClient_circuitBreakerRejectsWhenOpen(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 2
	rec := &fakeRecorder{}
	c := newTestClient(t, cfg, WithRecorder(rec))

	for i := 0; i < 2; i++ {
		get(context.Background(), c)
	}

	countBefore := callCount.Load()
	_, err := get(context.Background(), c)
	if errorCode(err) != model.ErrBackendUnavailable {
		t.Errorf("error = %v, want %s", err, model.ErrBackendUnavailable)
	}
	if callCount.Load() != countBefore {
		t.Error("server was called despite open circuit breaker")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("HealthCheck() = %v, want ErrBreakerOpen", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != 1 || rec.states[0] != BreakerOpen.Gauge() {
		t.Errorf("breaker states = %v, want [2]", rec.states)
	}
}

func TestClient_clientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 2
	c := newTestClient(t, cfg)

	for i := 0; i < 5; i++ {
		get(context.Background(), c)
	}
	if s := c.Breaker().State(); s != BreakerClosed {
		t.Errorf("state after 5 client errors = %v, want Closed", s)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}
}

// --- Retry logic ---

func fastRetry(maxAttempts int, idempotentOnly bool) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       maxAttempts,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMultiplier: 1,
		BackoffMax:        5 * time.Millisecond,
		IdempotentOnly:    idempotentOnly,
	}
}

func TestClient_retriesGETOnServerError(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"selected":[]}`))
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 10
	cfg.Retry = fastRetry(3, true)
	rec := &fakeRecorder{}
	c := newTestClient(t, cfg, WithRecorder(rec))

	resp, err := get(context.Background(), c)
	if err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if callCount.Load() != 3 {
		t.Errorf("server called %d times, want 3", callCount.Load())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.retries != 2 {
		t.Errorf("retries = %d, want 2", rec.retries)
	}
	if len(rec.requests) != 1 || rec.requests[0] != http.StatusOK {
		t.Errorf("requests = %v, want [200]", rec.requests)
	}
}

func TestClient_noRetryPOSTWhenIdempotentOnly(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 10
	cfg.Retry = fastRetry(3, true)
	c := newTestClient(t, cfg)

	_, err := c.do(context.Background(), call{endpoint: EndpointSetSelected, method: http.MethodPost})
	if errorCode(err) != model.ErrBackendUnavailable {
		t.Errorf("error = %v, want %s", err, model.ErrBackendUnavailable)
	}
	if callCount.Load() != 1 {
		t.Errorf("server called %d times, want 1 (no retry for POST)", callCount.Load())
	}
}

func TestClient_retryPOSTWhenNotIdempotentOnly(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"count":1}`))
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 10
	cfg.Retry = fastRetry(3, false)
	c := newTestClient(t, cfg)

	if _, err := c.do(context.Background(), call{endpoint: EndpointSetSelected, method: http.MethodPost}); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if callCount.Load() != 2 {
		t.Errorf("server called %d times, want 2", callCount.Load())
	}
}

func TestClient_retryExhaustedReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 10
	cfg.Retry = fastRetry(3, true)
	c := newTestClient(t, cfg)

	resp, err := get(context.Background(), c)
	if errorCode(err) != model.ErrBackendUnavailable {
		t.Errorf("error = %v, want %s", err, model.ErrBackendUnavailable)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", resp.StatusCode)
	}
}

// --- Context cancellation ---

func TestClient_contextDeadlineExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	c := newTestClient(t, defaultRemoteConfig(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := get(ctx, c)
	if !model.IsTimeout(err) {
		t.Errorf("error = %v, want a timeout", err)
	}
}

func TestClient_contextCancelDuringRetryBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.CircuitBreaker.FailureThreshold = 10
	cfg.Retry = config.RetryConfig{
		MaxAttempts:       5,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMultiplier: 1,
		BackoffMax:        1 * time.Second,
	}
	c := newTestClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := get(ctx, c); !model.IsTimeout(err) {
		t.Errorf("error = %v, want a timeout", err)
	}
}

func TestClient_connectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	c := newTestClient(t, defaultRemoteConfig(serverURL))
	_, err := get(context.Background(), c)
	if errorCode(err) != model.ErrBackendUnavailable {
		t.Errorf("error = %v, want %s", err, model.ErrBackendUnavailable)
	}
}

// --- Rate limiting ---

func TestClient_rateLimiterRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := defaultRemoteConfig(server.URL)
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	c := newTestClient(t, cfg)

	if _, err := get(context.Background(), c); err != nil {
		t.Fatalf("first request error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := get(ctx, c)
	if code := errorCode(err); code != model.ErrRateLimited && code != model.ErrBackendTimeout {
		t.Errorf("second request error = %v, want rate limited or timeout", err)
	}
}

// --- Direct helper tests ---

func TestSanitizeHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"normal", "normal"},
		{"has\rnewline", "hasnewline"},
		{"has\nnewline", "hasnewline"},
		{"has\r\nboth", "hasboth"},
		{"", ""},
	}
	for _, tt := range tests {
		got := sanitizeHeader(tt.input)
		if got != tt.want {
			t.Errorf("sanitizeHeader(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestIsIdempotentMethod(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{http.MethodGet, true},
		{http.MethodPut, true},
		{http.MethodDelete, true},
		{http.MethodHead, true},
		{http.MethodOptions, true},
		{http.MethodPost, false},
		{http.MethodPatch, false},
	}
	for _, tt := range tests {
		if got := isIdempotentMethod(tt.method); got != tt.want {
			t.Errorf("isIdempotentMethod(%q) = %v, want %v", tt.method, got, tt.want)
		}
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{500, 502, 503, 504} {
		if !isRetryableStatus(code) {
			t.Errorf("isRetryableStatus(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 501} {
		if isRetryableStatus(code) {
			t.Errorf("isRetryableStatus(%d) = true, want false", code)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := config.RetryConfig{
		BackoffInitial:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        2 * time.Second,
	}
	for attempt, want := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
	} {
		if d := calculateBackoff(cfg, attempt); d != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, d, want)
		}
	}
}

func TestCalculateBackoff_defaults(t *testing.T) {
	if d := calculateBackoff(config.RetryConfig{}, 1); d != 100*time.Millisecond {
		t.Errorf("backoff(1) with defaults = %v, want 100ms", d)
	}
}

func TestCalculateBackoff_cappedAtMax(t *testing.T) {
	cfg := config.RetryConfig{
		BackoffInitial:    100 * time.Millisecond,
		BackoffMultiplier: 10,
		BackoffMax:        500 * time.Millisecond,
	}
	if d := calculateBackoff(cfg, 5); d != 500*time.Millisecond {
		t.Errorf("backoff(5) = %v, want 500ms (capped)", d)
	}
}

func TestIsRetryableError(t *testing.T) {
	if isRetryableError(nil) {
		t.Error("isRetryableError(nil) = true")
	}
	if isRetryableError(model.NewBackendUnavailableError()) {
		t.Error("isRetryableError(ErrorEnvelope) = true, want false")
	}
	if !isRetryableError(errors.New("io: unexpected EOF")) {
		t.Error("isRetryableError(generic) = false, want true")
	}
}

func TestExceptionOf(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"exception":"boom"}`, "boom"},
		{`  {"exception":"padded"}`, "padded"},
		{`{"count":1}`, ""},
		{`<div>{"exception":"not json"}</div>`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := exceptionOf([]byte(tt.body)); got != tt.want {
			t.Errorf("exceptionOf(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
