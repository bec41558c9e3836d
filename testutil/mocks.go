package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockProviderServer is a test server standing in for a chat platform API.
// Register handlers per path; unregistered paths return 404.
type MockProviderServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockProviderServer creates a mock provider API server.
func NewMockProviderServer(t *testing.T) *MockProviderServer {
	t.Helper()
	m := &MockProviderServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// RespondJSON writes v as a JSON response body.
func RespondJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode mock response: %v", err)
	}
}
