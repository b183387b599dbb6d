// Package testutil provides testing utilities for the node pager.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock GraphQL response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Request is a GraphQL request received by the mock server.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	Header    http.Header    `json:"-"`
}

// IDs returns the ids variable as strings.
func (r Request) IDs(name string) []string {
	list, _ := r.Variables[name].([]any)
	ids := make([]string, 0, len(list))
	for _, v := range list {
		ids = append(ids, fmt.Sprint(v))
	}
	return ids
}

// Cursor returns a string variable, or "" when absent or null.
func (r Request) Cursor(name string) string {
	s, _ := r.Variables[name].(string)
	return s
}

// Has reports whether the variable was sent, even as null.
func (r Request) Has(name string) bool {
	_, ok := r.Variables[name]
	return ok
}

// Resolver produces the response for a request.
type Resolver func(req Request) MockResponse

// MockGraphQL is a configurable mock GraphQL server for testing.
// Queued responses are served first, then the resolver, then an empty result.
type MockGraphQL struct {
	server   *httptest.Server
	mu       sync.Mutex
	queue    []MockResponse
	resolver Resolver
	requests []Request
}

// NewMockGraphQL creates and starts a mock server.
func NewMockGraphQL() *MockGraphQL {
	mock := &MockGraphQL{}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		req.Header = r.Header.Clone()

		mock.mu.Lock()
		mock.requests = append(mock.requests, req)
		var resp MockResponse
		switch {
		case len(mock.queue) > 0:
			resp = mock.queue[0]
			mock.queue = mock.queue[1:]
		case mock.resolver != nil:
			resolver := mock.resolver
			mock.mu.Unlock()
			resp = resolver(req)
			mock.mu.Lock()
		default:
			resp = NewDataResponse()
		}
		mock.mu.Unlock()

		write(w, resp)
	}))

	return mock
}

func write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		io.WriteString(w, resp.Body)
	}
}

// URL returns the mock server URL.
func (m *MockGraphQL) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGraphQL) Close() {
	m.server.Close()
}

// Reset clears queued responses and captured requests.
func (m *MockGraphQL) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.requests = nil
}

// Enqueue adds responses served in order before the resolver is consulted.
func (m *MockGraphQL) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// SetResolver sets the fallback response function.
func (m *MockGraphQL) SetResolver(resolver Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = resolver
}

// Requests returns a copy of the captured requests.
func (m *MockGraphQL) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGraphQL) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// NewDataResponse creates a 200 response whose data.nodes holds the given
// raw JSON nodes ("null" for a missing node).
func NewDataResponse(nodes ...string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":{"nodes":[` + strings.Join(nodes, ",") + `]}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewCostResponse is NewDataResponse with an extensions.cost block.
func NewCostResponse(requested, available, maximum, restoreRate float64, nodes ...string) MockResponse {
	resp := NewDataResponse(nodes...)
	resp.Body = fmt.Sprintf(
		`{"data":{"nodes":[%s]},"extensions":{"cost":{"requestedQueryCost":%g,"actualQueryCost":%g,"throttleStatus":{"maximumAvailable":%g,"currentlyAvailable":%g,"restoreRate":%g}}}}`,
		strings.Join(nodes, ","), requested, requested, maximum, available, restoreRate)
	return resp
}

// NewThrottledResponse creates a 200 response carrying a THROTTLED GraphQL error.
func NewThrottledResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}],"extensions":{"cost":{"requestedQueryCost":100,"actualQueryCost":null,"throttleStatus":{"maximumAvailable":1000,"currentlyAvailable":10,"restoreRate":50}}}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewGraphQLErrorResponse creates a 200 response carrying a GraphQL error.
func NewGraphQLErrorResponse(message string) MockResponse {
	msg, _ := json.Marshal(message)
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":null,"errors":[{"message":` + string(msg) + `}]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":"Exceeded 2 calls per second for api client."}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":"Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
