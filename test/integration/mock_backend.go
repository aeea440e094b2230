package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Remote endpoint IDs, used to configure and assert on the mock.
const (
	OpGetWebPart      = "getWebPart"
	OpGetQueryDetails = "getQueryDetails"
	OpSetSelected     = "setSelected"
	OpClearSelected   = "clearSelected"
	OpGetSelected     = "getSelected"
	OpSelectAll       = "selectAll"
)

// contextPath is the server path every remote endpoint lives under.
const contextPath = "/labkey/home"

// MockRemote is a configurable HTTP test server that simulates the remote
// data server. Unconfigured endpoints fall back to stateful defaults: a
// selection store keyed by selection key, a web part renderer that echoes
// the page size, and fixed query details. Every received request is
// recorded for later assertion.
type MockRemote struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest

	// Default behaviour state.
	selected map[string][]string
	allRows  []string
	columns  []map[string]any
}

// RecordedRequest captures the details of a request received by the mock.
type RecordedRequest struct {
	Method     string
	Path       string
	Form       url.Values
	Headers    http.Header
	ReceivedAt time.Time
}

// operationConfig holds the configured responses for a single endpoint.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status      int
	body        any
	raw         string
	contentType string
	delay       time.Duration
	connError   bool
}

// OperationMock is a builder for configuring responses of one endpoint.
type OperationMock struct {
	remote *MockRemote
	opID   string
}

// newMockRemote creates a mock remote and starts its HTTP test server.
func newMockRemote(t *testing.T) *MockRemote {
	t.Helper()

	mr := &MockRemote{
		t:            t,
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
		selected:     make(map[string][]string),
		allRows:      []string{"1", "2", "3", "4", "5"},
		columns:      DefaultColumns(),
	}

	routes := map[string]string{
		OpGetWebPart:      "POST " + contextPath + "/project/getWebPart.api",
		OpGetQueryDetails: "GET " + contextPath + "/query/getQueryDetails.api",
		OpSetSelected:     "POST " + contextPath + "/query/setSelected.api",
		OpClearSelected:   "POST " + contextPath + "/query/clearSelected.api",
		OpGetSelected:     "GET " + contextPath + "/query/getSelected.api",
		OpSelectAll:       "POST " + contextPath + "/query/selectAll.api",
	}
	mux := http.NewServeMux()
	for opID, pattern := range routes {
		mux.HandleFunc(pattern, mr.handleOperation(opID))
	}

	mr.server = httptest.NewServer(mux)
	t.Cleanup(mr.server.Close)
	return mr
}

// BaseURL returns the remote root including the context path.
func (mr *MockRemote) BaseURL() string {
	return mr.server.URL + contextPath
}

// SetRows replaces the row ids that select-all enumerates.
func (mr *MockRemote) SetRows(ids ...string) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.allRows = ids
}

// Selected returns the ids the mock holds for a selection key.
func (mr *MockRemote) Selected(key string) []string {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return slices.Clone(mr.selected[key])
}

// OnOperation returns a builder for configuring responses of an endpoint.
func (mr *MockRemote) OnOperation(opID string) *OperationMock {
	return &OperationMock{remote: mr, opID: opID}
}

// RespondWith configures the endpoint to respond with the given status and
// JSON body.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.remote.addResponse(om.opID, &mockResponse{status: status, body: body})
	return om
}

// RespondWithHTML configures the endpoint to respond with an HTML body.
func (om *OperationMock) RespondWithHTML(status int, html string) *OperationMock {
	om.remote.addResponse(om.opID, &mockResponse{status: status, raw: html, contentType: "text/html"})
	return om
}

// RespondWithException configures the endpoint to report a server
// exception in a 200 response.
func (om *OperationMock) RespondWithException(message string) *OperationMock {
	return om.RespondWith(http.StatusOK, map[string]any{"exception": message})
}

// RespondWithDelay configures a delayed response to simulate a slow remote.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.remote.addResponse(om.opID, &mockResponse{status: status, body: body, delay: delay})
	return om
}

// RespondWithConnectionError configures the endpoint to close the
// connection to simulate a remote failure.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.remote.addResponse(om.opID, &mockResponse{connError: true})
	return om
}

func (mr *MockRemote) addResponse(opID string, resp *mockResponse) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	cfg, ok := mr.operations[opID]
	if !ok {
		cfg = &operationConfig{}
		mr.operations[opID] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mr *MockRemote) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rec := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Form:       r.Form,
			Headers:    r.Header.Clone(),
			ReceivedAt: time.Now(),
		}
		mr.mu.Lock()
		mr.receivedByOp[opID] = append(mr.receivedByOp[opID], rec)
		mr.mu.Unlock()

		resp := mr.getNextResponse(opID)
		if resp == nil {
			mr.serveDefault(w, opID, r.Form)
			return
		}

		if resp.connError {
			// Hijack the connection and close it to simulate a connection error.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, _ := hj.Hijack(); conn != nil {
					conn.Close()
				}
			}
			return
		}
		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}
		if resp.raw != "" {
			w.Header().Set("Content-Type", resp.contentType)
			w.WriteHeader(resp.status)
			w.Write([]byte(resp.raw))
			return
		}
		writeJSON(w, resp.status, resp.body)
	}
}

// serveDefault answers an unconfigured endpoint.
func (mr *MockRemote) serveDefault(w http.ResponseWriter, opID string, form url.Values) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	key := form.Get("key")
	switch opID {
	case OpGetWebPart:
		region := form.Get("dataRegionName")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<table data-region="` + region + `" data-rows="` + form.Get(region+".maxRows") + `"></table>`))
	case OpGetQueryDetails:
		writeJSON(w, http.StatusOK, map[string]any{
			"columns": mr.columns,
			"views":   []map[string]any{{"name": "", "label": "default", "default": true}},
		})
	case OpSetSelected:
		checked, _ := strconv.ParseBool(form.Get("checked"))
		for _, id := range form["id"] {
			mr.selected[key] = setMember(mr.selected[key], id, checked)
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": len(mr.selected[key])})
	case OpClearSelected:
		delete(mr.selected, key)
		writeJSON(w, http.StatusOK, map[string]int{"count": 0})
	case OpGetSelected:
		ids := mr.selected[key]
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"selected": ids})
	case OpSelectAll:
		key = form.Get(form.Get("dataRegionName") + ".selectionKey")
		for _, id := range mr.allRows {
			mr.selected[key] = setMember(mr.selected[key], id, true)
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": len(mr.selected[key])})
	}
}

func (mr *MockRemote) getNextResponse(opID string) *mockResponse {
	mr.mu.RLock()
	cfg, ok := mr.operations[opID]
	mr.mu.RUnlock()
	if !ok || cfg == nil {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if len(cfg.responses) == 0 {
		return nil
	}

	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the endpoint was called the expected number of
// times.
func (mr *MockRemote) AssertCalled(t *testing.T, opID string, expectedCount int) {
	t.Helper()
	mr.mu.RLock()
	actual := len(mr.receivedByOp[opID])
	mr.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock remote: %q called %d times, want %d", opID, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the endpoint was never called.
func (mr *MockRemote) AssertNotCalled(t *testing.T, opID string) {
	t.Helper()
	mr.AssertCalled(t, opID, 0)
}

// LastRequest returns the last request received for the endpoint, or nil.
func (mr *MockRemote) LastRequest(opID string) *RecordedRequest {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	reqs := mr.receivedByOp[opID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// ResetOperation clears recorded requests and configured responses for one
// endpoint.
func (mr *MockRemote) ResetOperation(opID string) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	delete(mr.operations, opID)
	delete(mr.receivedByOp, opID)
}

func setMember(ids []string, id string, present bool) []string {
	i := slices.Index(ids, id)
	switch {
	case present && i < 0:
		return append(ids, id)
	case !present && i >= 0:
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// DefaultColumns returns the wire columns of the Users test query.
func DefaultColumns() []map[string]any {
	return []map[string]any{
		{"name": "RowId", "fieldKeyPath": "RowId", "sqlType": "INTEGER"},
		{"name": "Name", "fieldKeyPath": "Name", "caption": "Name", "sqlType": "VARCHAR"},
		{"name": "Age", "fieldKeyPath": "Age", "caption": "Age", "sqlType": "INTEGER"},
		{"name": "Created", "fieldKeyPath": "Created", "sqlType": "TIMESTAMP"},
		{"name": "Active", "fieldKeyPath": "Active", "sqlType": "BOOLEAN"},
	}
}
