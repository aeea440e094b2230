// Package integration provides a reusable test harness for end-to-end
// integration testing of the region server. It starts a full HTTP server
// whose remote clients talk to a mock data server.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/config"
	"github.com/pitabwire/dataregion/internal/invoker"
	"github.com/pitabwire/dataregion/internal/metadata"
	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/internal/region"
	"github.com/pitabwire/dataregion/internal/transport"
	"github.com/pitabwire/dataregion/model"
)

// TestHarness encapsulates a fully wired region server with a mock remote.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	remote *MockRemote

	// Internal components exposed for advanced test scenarios.
	Registry *region.Registry
	Client   *invoker.Client
	Metadata *metadata.Cache

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout   time.Duration
	reloadTimeout    time.Duration
	selectionTimeout time.Duration
	retryAttempts    int
	failureThreshold int
	hook             region.Hook
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithReloadTimeout bounds asynchronous content reloads.
func WithReloadTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.reloadTimeout = d
	}
}

// WithRetries sets the number of attempts for idempotent remote calls.
func WithRetries(attempts int) HarnessOption {
	return func(c *harnessConfig) {
		c.retryAttempts = attempts
	}
}

// WithFailureThreshold sets the consecutive failures that open the remote
// circuit breaker.
func WithFailureThreshold(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.failureThreshold = n
	}
}

// WithHook installs a region change hook.
func WithHook(h region.Hook) HarnessOption {
	return func(c *harnessConfig) {
		c.hook = h
	}
}

// NewTestHarness creates and starts a full server instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout:   10 * time.Second,
		reloadTimeout:    5 * time.Second,
		selectionTimeout: 5 * time.Second,
		retryAttempts:    1,
		failureThreshold: 5,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Start the mock remote.
	h.remote = newMockRemote(t)

	// Step 2: Build config pointing at the mock.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Remote.BaseURL = h.remote.BaseURL()
	h.cfg.Remote.Timeout = 5 * time.Second
	h.cfg.Remote.Retry.MaxAttempts = hc.retryAttempts
	h.cfg.Remote.Retry.BackoffInitial = 10 * time.Millisecond
	h.cfg.Remote.CircuitBreaker.FailureThreshold = hc.failureThreshold
	h.cfg.Remote.CircuitBreaker.Timeout = time.Minute
	h.cfg.Regions.ReloadTimeout = hc.reloadTimeout
	h.cfg.Regions.SelectionTimeout = hc.selectionTimeout
	h.cfg.Regions.DefaultPageSize = 20

	logger := zap.NewNop()

	// Step 3: Build the remote client and services.
	client, err := invoker.NewClient(h.cfg.Remote)
	if err != nil {
		t.Fatalf("create remote client: %v", err)
	}
	h.Client = client
	selection := invoker.NewSelectionClient(client)
	h.Metadata = metadata.NewCache(invoker.NewQueryClient(client),
		h.cfg.Metadata.Cache.TTL, h.cfg.Metadata.Cache.MaxEntries, nil)

	// Step 4: Build the region registry.
	h.Registry = region.NewRegistry(region.Options{
		ReloadTimeout: h.cfg.Regions.ReloadTimeout,
		PageSize:      h.cfg.Regions.DefaultPageSize,
		Content:       invoker.NewContentClient(client),
		Hook:          hc.hook,
		Logger:        logger,
	})

	// Step 5: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:        h.cfg,
		Registry:      h.Registry,
		Selection:     selection,
		Metadata:      h.Metadata,
		Logger:        logger,
		HealthHandler: observability.HandleHealth(),
		ReadyHandler: observability.HandleReady(observability.ReadinessChecks{
			RegistryReady:  func() bool { return true },
			Remote:         client,
			SelectionStore: selection,
		}),
	})

	// Step 6: Start test server.
	h.server = httptest.NewServer(observability.TracingMiddleware(router))
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Remote returns the mock data server.
func (h *TestHarness) Remote() *MockRemote {
	return h.remote
}

// --- HTTP client helpers ---

// GET performs a GET request.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, nil)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, nil)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, nil)
}

// POSTWithHeaders performs a POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	req.Header.Set("X-Session-Id", "integration")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses
// the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Region helpers ---

// RegionView mirrors the region JSON returned by the server.
type RegionView struct {
	Name         string            `json:"name"`
	Phase        string            `json:"phase"`
	Async        bool              `json:"async"`
	SelectionKey string            `json:"selection_key"`
	Query        string            `json:"query"`
	State        model.RegionState `json:"state"`
	Content      *model.Content    `json:"content"`
	RenderSeq    uint64            `json:"render_seq"`
}

// TransitionView mirrors the body of a mutating region route.
type TransitionView struct {
	Transition model.Transition `json:"transition"`
	Region     RegionView       `json:"region"`
}

// ErrorView mirrors an error response.
type ErrorView struct {
	Error model.ErrorEnvelope `json:"error"`
}

// CreateRegion creates a region on page and fails the test on error.
func (h *TestHarness) CreateRegion(page string, body map[string]any) RegionView {
	h.t.Helper()
	var rv RegionView
	h.AssertJSON(h.t, h.POST("/pages/"+page+"/regions", body), http.StatusCreated, &rv)
	return rv
}

// Mutate posts to a region route and returns the transition.
func (h *TestHarness) Mutate(page, region, route string, body any) TransitionView {
	h.t.Helper()
	var tv TransitionView
	h.AssertJSON(h.t, h.POST(fmt.Sprintf("/pages/%s/regions/%s/%s", page, region, route), body), http.StatusOK, &tv)
	return tv
}

// Location returns the query string of a page.
func (h *TestHarness) Location(page string) string {
	h.t.Helper()
	var loc struct {
		Query string `json:"query"`
	}
	h.AssertJSON(h.t, h.GET("/pages/"+page+"/location"), http.StatusOK, &loc)
	return loc.Query
}

// UsersRegion returns the create body of a region over core.Users.
func UsersRegion(name string, async bool) map[string]any {
	return map[string]any{
		"name":          name,
		"schema_name":   "core",
		"query_name":    "Users",
		"selection_key": "sel-" + name,
		"async":         async,
	}
}
