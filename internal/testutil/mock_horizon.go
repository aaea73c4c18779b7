// Package testutil provides testing utilities for the Horizon client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock Horizon endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockHorizon is a configurable mock Horizon API server for testing.
// It serves a token endpoint at /Account/Token out of the box.
type MockHorizon struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	TokenRequests     int
	LastRequestHeader http.Header
	LastQuery         map[string]string
}

// NewMockHorizon creates a new mock Horizon server. username/password are
// the credentials the token endpoint accepts.
func NewMockHorizon(username, password string) *MockHorizon {
	mock := &MockHorizon{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		query := make(map[string]string)
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		mock.LastQuery = query
		if r.URL.Path == "/Account/Token" {
			mock.TokenRequests++
		}
		mock.mu.Unlock()

		if r.URL.Path == "/Account/Token" {
			mock.tokenHandler(w, r, username, password)
			return
		}

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockHorizon) URL() string {
	return m.server.URL
}

// TokenURL returns the token endpoint URL.
func (m *MockHorizon) TokenURL() string {
	return m.server.URL + "/Account/Token"
}

// Close shuts down the mock server.
func (m *MockHorizon) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockHorizon) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequests = 0
	m.LastRequestHeader = nil
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockHorizon) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockHorizon) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetDataListResponse serves a DataList/v2 payload with one record per
// requested datasource id, timestamped at the requested start date.
func (m *MockHorizon) SetDataListResponse() {
	m.SetHandler("/DataList/v2", func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("dataSourceIds"), ",")
		start := r.URL.Query().Get("startDate")
		if start == "" {
			start = "2025-05-01T00:00:00Z"
		}

		records := make([]string, len(ids))
		for i, id := range ids {
			records[i] = fmt.Sprintf(`{"DataSourceId": %s, "Date": %q, "Value": %.1f}`, id, start, float64(i)+0.5)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("[" + strings.Join(records, ",") + "]"))
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockHorizon) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenRequests returns the number of token requests.
func (m *MockHorizon) GetTokenRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequests
}

func (m *MockHorizon) tokenHandler(w http.ResponseWriter, r *http.Request, username, password string) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if creds.Username != username || creds.Password != password {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"Message": "Invalid credentials"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"AccessToken": "mock-access-token"}`))
}

// defaultHandler provides a default Horizon-like response.
func (m *MockHorizon) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`[]`))
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"Message": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewPlantListResponse creates a plant inventory response with one plant.
func NewPlantListResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: `[{"Id": 42, "Name": "Alpha Ranch", "ElementCount": 2, "UniqueID": "abc-123",
			"Parameters": [{"Key": "Latitude", "Value": "33.1"}]}]`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
