package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chat-relay/chat"
	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/gateway"
	"github.com/onnwee/chat-relay/llm"
	"github.com/onnwee/chat-relay/testutil"
)

// newTestServer wires the full HTTP stack against real Postgres and Redis.
// Skips when TEST_PG_DSN or TEST_REDIS_URL is unset.
func newTestServer(t *testing.T) (*httptest.Server, *testutil.MockOpenAIServer) {
	t.Helper()
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")

	database := testutil.SetupTestDB(t)
	channelCache := testutil.SetupTestRedis(t, time.Minute)

	store := db.NewStore(database)
	registry := gateway.NewRegistry()
	svc := chat.NewService(store, channelCache, registry)

	mock := testutil.NewMockOpenAIServer(t)
	llmClient := llm.New("test-key", "", mock.URL)

	ctx := context.Background()
	h := NewHandlers(ctx, svc, store, channelCache, registry, llmClient)
	ws := gateway.NewHandler(ctx, registry, svc, nil)

	server := httptest.NewServer(NewMux(h, ws, nil))
	t.Cleanup(server.Close)
	return server, mock
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestEndpoints(t *testing.T) {
	server, mock := newTestServer(t)

	// Start from a clean slate.
	resp := postJSON(t, server.URL+"/admin/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		var body map[string]string
		decodeBody(t, resp, &body)
		if body["status"] != "ready" {
			t.Errorf("status = %q, want ready", body["status"])
		}
	})

	t.Run("send and replay", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/messages", map[string]string{
			"channelId": "http-c1",
			"userId":    "u1",
			"text":      "hello over http",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("send status = %d, want 201", resp.StatusCode)
		}
		var sent chat.Message
		decodeBody(t, resp, &sent)
		if sent.MessageID == "" || sent.Timestamp == 0 {
			t.Fatalf("send response missing identity: %+v", sent)
		}

		resp = postJSON(t, server.URL+"/api/messages/replay", map[string]any{
			"channelId":     "http-c1",
			"lastTimestamp": 0,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("replay status = %d, want 200", resp.StatusCode)
		}
		var replay struct {
			Messages []chat.Message `json:"messages"`
			Count    int            `json:"count"`
		}
		decodeBody(t, resp, &replay)
		if replay.Count != 1 || len(replay.Messages) != 1 {
			t.Fatalf("replay = %+v, want exactly the sent message", replay)
		}
		if replay.Messages[0].MessageID != sent.MessageID {
			t.Errorf("replayed id = %s, want %s", replay.Messages[0].MessageID, sent.MessageID)
		}
	})

	t.Run("send rejects missing fields", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/messages", map[string]string{"channelId": "c1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("replay rejects missing lastTimestamp", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/messages/replay", map[string]string{"channelId": "c1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("generate and metrics", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/admin/generate", map[string]any{
			"messageCount": 50,
			"channelCount": 3,
			"userCount":    5,
			"pattern":      "steady",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("generate status = %d", resp.StatusCode)
		}

		metricsResp, err := http.Get(server.URL + "/admin/metrics")
		if err != nil {
			t.Fatalf("GET /admin/metrics: %v", err)
		}
		defer metricsResp.Body.Close()
		var metrics struct {
			TotalMessages  int64 `json:"totalMessages"`
			ChannelCount   int   `json:"channelCount"`
			CachedMessages int64 `json:"cachedMessages"`
		}
		decodeBody(t, metricsResp, &metrics)
		if metrics.TotalMessages < 50 {
			t.Errorf("totalMessages = %d, want >= 50", metrics.TotalMessages)
		}
		if metrics.CachedMessages == 0 {
			t.Error("generate did not seed the cache")
		}
	})

	t.Run("generate rejects bad pattern", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/admin/generate", map[string]any{"pattern": "chaotic"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("admin messages dump", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/admin/messages")
		if err != nil {
			t.Fatalf("GET /admin/messages: %v", err)
		}
		defer resp.Body.Close()
		var dump struct {
			Messages []chat.Message `json:"messages"`
			Count    int            `json:"count"`
		}
		decodeBody(t, resp, &dump)
		if dump.Count == 0 || dump.Count != len(dump.Messages) {
			t.Errorf("dump count = %d with %d messages", dump.Count, len(dump.Messages))
		}
	})

	t.Run("llm summary", func(t *testing.T) {
		mock.MockCompletion("Team discussed contracts and deadlines.")
		resp := postJSON(t, server.URL+"/api/llm/summary", map[string]any{
			"channelId":      "channel-1",
			"sinceTimestamp": 0,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("summary status = %d", resp.StatusCode)
		}
		var body struct {
			Summary      string `json:"summary"`
			MessageCount int    `json:"messageCount"`
		}
		decodeBody(t, resp, &body)
		if body.Summary != "Team discussed contracts and deadlines." {
			t.Errorf("summary = %q", body.Summary)
		}
	})

	t.Run("llm summary empty channel", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/llm/summary", map[string]any{
			"channelId":      "no-such-channel",
			"sinceTimestamp": 0,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("summary status = %d", resp.StatusCode)
		}
		var body struct {
			Summary      string `json:"summary"`
			MessageCount int    `json:"messageCount"`
		}
		decodeBody(t, resp, &body)
		if body.Summary != "No messages to summarize." || body.MessageCount != 0 {
			t.Errorf("empty-channel summary = %+v", body)
		}
	})

	t.Run("llm search", func(t *testing.T) {
		mock.MockCompletion("The deadline is Friday.")
		resp := postJSON(t, server.URL+"/api/llm/search", map[string]any{
			"channelId": "channel-1",
			"query":     "when is the deadline?",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("search status = %d", resp.StatusCode)
		}
		var body struct {
			Answer string `json:"answer"`
			Query  string `json:"query"`
		}
		decodeBody(t, resp, &body)
		if body.Answer != "The deadline is Friday." {
			t.Errorf("answer = %q", body.Answer)
		}
		if body.Query != "when is the deadline?" {
			t.Errorf("query echo = %q", body.Query)
		}
	})

	t.Run("llm search requires query", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/llm/search", map[string]string{"channelId": "channel-1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("reset clears everything", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/admin/reset", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("reset status = %d", resp.StatusCode)
		}
		metricsResp, err := http.Get(server.URL + "/admin/metrics")
		if err != nil {
			t.Fatalf("GET /admin/metrics: %v", err)
		}
		defer metricsResp.Body.Close()
		var metrics struct {
			TotalMessages  int64 `json:"totalMessages"`
			CachedMessages int64 `json:"cachedMessages"`
		}
		decodeBody(t, metricsResp, &metrics)
		if metrics.TotalMessages != 0 || metrics.CachedMessages != 0 {
			t.Errorf("after reset: total=%d cached=%d, want 0/0", metrics.TotalMessages, metrics.CachedMessages)
		}
	})
}

func TestAdminEndpointsRequireAuthWhenConfigured(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")

	database := testutil.SetupTestDB(t)
	channelCache := testutil.SetupTestRedis(t, time.Minute)
	store := db.NewStore(database)
	registry := gateway.NewRegistry()
	svc := chat.NewService(store, channelCache, registry)
	ctx := context.Background()
	h := NewHandlers(ctx, svc, store, channelCache, registry, nil)
	ws := gateway.NewHandler(ctx, registry, svc, nil)

	server := httptest.NewServer(NewMux(h, ws, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/admin/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/admin/metrics", nil)
	req.Header.Set("X-Admin-Token", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
}

func TestLLMEndpointsUnconfigured(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")

	database := testutil.SetupTestDB(t)
	channelCache := testutil.SetupTestRedis(t, time.Minute)
	store := db.NewStore(database)
	registry := gateway.NewRegistry()
	svc := chat.NewService(store, channelCache, registry)
	ctx := context.Background()
	h := NewHandlers(ctx, svc, store, channelCache, registry, nil)
	ws := gateway.NewHandler(ctx, registry, svc, nil)

	server := httptest.NewServer(NewMux(h, ws, nil))
	defer server.Close()

	for _, path := range []string{"/api/llm/summary", "/api/llm/search"} {
		resp := postJSON(t, server.URL+path, map[string]string{"channelId": "c1", "query": "q"})
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestGenerateMessagesPatterns(t *testing.T) {
	for _, pattern := range []string{"steady", "bursty", "high-traffic"} {
		t.Run(pattern, func(t *testing.T) {
			msgs := generateMessages(200, 4, 6, pattern)
			if len(msgs) != 200 {
				t.Fatalf("generated %d messages, want 200", len(msgs))
			}
			seen := map[string]bool{}
			now := time.Now().UnixMilli()
			for _, m := range msgs {
				if seen[m.MessageID] {
					t.Fatalf("duplicate messageId %s", m.MessageID)
				}
				seen[m.MessageID] = true
				if m.Timestamp > now {
					t.Errorf("timestamp %d in the future", m.Timestamp)
				}
				if m.ChannelID == "" || m.UserID == "" || m.Text == "" {
					t.Errorf("incomplete message: %+v", m)
				}
			}
		})
	}
}

func TestGenerateChannelSpread(t *testing.T) {
	msgs := generateMessages(500, 5, 10, "steady")
	channels := map[string]int{}
	for _, m := range msgs {
		channels[m.ChannelID]++
	}
	if len(channels) < 2 {
		t.Errorf("messages spread over %d channels, want several", len(channels))
	}
	for id := range channels {
		var n int
		if _, err := fmt.Sscanf(id, "channel-%d", &n); err != nil || n < 1 || n > 5 {
			t.Errorf("unexpected channel id %q", id)
		}
	}
}
