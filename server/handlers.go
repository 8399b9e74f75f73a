// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/chat-relay/cache"
	"github.com/onnwee/chat-relay/chat"
	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/gateway"
	"github.com/onnwee/chat-relay/llm"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx      context.Context
	svc      *chat.Service
	store    *db.Store
	cache    *cache.ChannelCache
	registry *gateway.Registry
	llm      *llm.Client
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// llmClient may be nil when no API key is configured; the LLM endpoints then
// report 503.
func NewHandlers(ctx context.Context, svc *chat.Service, store *db.Store, channelCache *cache.ChannelCache, registry *gateway.Registry, llmClient *llm.Client) *Handlers {
	return &Handlers{
		ctx:      ctx,
		svc:      svc,
		store:    store,
		cache:    channelCache,
		registry: registry,
		llm:      llmClient,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
