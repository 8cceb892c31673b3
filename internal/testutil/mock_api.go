// Package testutil provides testing utilities for the tracker client.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock API response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock ticket-tracker API server. Each path can
// serve a fixed response or a scripted sequence of responses, which makes
// retry behavior observable (e.g. 503, 503, 200).
type MockAPI struct {
	server *httptest.Server

	mu         sync.Mutex
	handlers   map[string]http.HandlerFunc
	sequences  map[string][]MockResponse
	counts     map[string]int
	total      int
	lastHeader http.Header
	lastBody   []byte
	requestIDs []string
}

// NewMockAPI creates and starts a mock API server.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		handlers:  make(map[string]http.HandlerFunc),
		sequences: make(map[string][]MockResponse),
		counts:    make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters. Configured responses are kept.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts = make(map[string]int)
	m.total = 0
	m.lastHeader = nil
	m.lastBody = nil
	m.requestIDs = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetSequence configures the responses for consecutive requests to path.
// Once the sequence is used up, the last response repeats.
func (m *MockAPI) SetSequence(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
	m.sequences[path] = resps
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// PathCount returns the number of requests made to path.
func (m *MockAPI) PathCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// LastRequestBody returns the body of the most recent request.
func (m *MockAPI) LastRequestBody() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBody
}

// RequestIDs returns the X-Request-ID of every request in arrival order.
func (m *MockAPI) RequestIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requestIDs...)
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	m.mu.Lock()
	n := m.counts[r.URL.Path]
	m.counts[r.URL.Path]++
	m.total++
	m.lastHeader = r.Header.Clone()
	m.lastBody = body
	m.requestIDs = append(m.requestIDs, r.Header.Get("X-Request-ID"))

	handler, hasHandler := m.handlers[r.URL.Path]
	seq := m.sequences[r.URL.Path]
	m.mu.Unlock()

	if hasHandler {
		handler(w, r)
		return
	}

	if len(seq) == 0 {
		m.defaultHandler(w, r)
		return
	}

	resp := seq[min(n, len(seq)-1)]
	writeResponse(w, r, resp)
}

// defaultHandler answers like a healthy tracker API.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-RateLimit-Limit", "1500")
	w.Header().Set("X-RateLimit-Remaining", "1499")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(r.Body)
	return body
}

// NewJSONResponse creates a 200 OK response with a JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"X-RateLimit-Limit":     "1500",
			"X-RateLimit-Remaining": "1400",
		},
	}
}

// NewNoContentResponse creates a 204 No Content response.
func NewNoContentResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusNoContent}
}

// NewMalformedResponse creates a 200 OK response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"issues": [`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 response. A non-negative retryAfter
// is sent as Retry-After in seconds; a negative one omits the header.
func NewRateLimitResponse(retryAfter int) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors": [{"message": "Rate limit exceeded"}]}`,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"X-RateLimit-Limit":     "1500",
			"X-RateLimit-Remaining": "0",
		},
	}
	if retryAfter >= 0 {
		resp.Headers["Retry-After"] = strconv.Itoa(retryAfter)
	}
	return resp
}

// NewServerErrorResponse creates a 5xx response.
func NewServerErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"error": "` + http.StatusText(status) + `"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewErrorResponse creates an error response with the given status,
// e.g. 401, 403 or 404.
func NewErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"errorMessages": ["` + http.StatusText(status) + `"]}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
