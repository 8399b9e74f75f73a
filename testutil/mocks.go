package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockOpenAIServer creates a test server that mocks the chat completions API.
type MockOpenAIServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockOpenAIServer creates a new mock completions server.
func NewMockOpenAIServer(t *testing.T) *MockOpenAIServer {
	t.Helper()
	m := &MockOpenAIServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockCompletion adds a handler for /chat/completions returning content.
func (m *MockOpenAIServer) MockCompletion(content string) {
	m.Handlers["/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockCompletionError adds a handler for /chat/completions returning status
// with an API error body.
func (m *MockOpenAIServer) MockCompletionError(status int, message string) {
	m.Handlers["/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": message},
		}) //nolint:errcheck // test mock response
	}
}
