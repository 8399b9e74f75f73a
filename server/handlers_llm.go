package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandleLLMSummary summarizes a channel's messages since a timestamp.
func (h *Handlers) HandleLLMSummary(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM helper not configured")
		return
	}
	var req struct {
		ChannelID      string `json:"channelId"`
		SinceTimestamp int64  `json:"sinceTimestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "channelId is required")
		return
	}

	ctx := r.Context()
	msgs, err := h.svc.Replay(ctx, req.ChannelID, req.SinceTimestamp)
	if err != nil {
		slog.Error("summary replay failed", slog.String("channel", req.ChannelID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to generate summary")
		return
	}
	if len(msgs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"summary":      "No messages to summarize.",
			"messageCount": 0,
		})
		return
	}

	summary, err := h.llm.Summarize(ctx, msgs)
	if err != nil {
		slog.Error("summary generation failed", slog.String("channel", req.ChannelID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to generate summary")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":      summary,
		"messageCount": len(msgs),
		"channelId":    req.ChannelID,
	})
}

// HandleLLMSearch answers a question grounded in a channel's history.
func (h *Handlers) HandleLLMSearch(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM helper not configured")
		return
	}
	var req struct {
		ChannelID      string `json:"channelId"`
		Query          string `json:"query"`
		SinceTimestamp int64  `json:"sinceTimestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ChannelID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "channelId and query are required")
		return
	}

	ctx := r.Context()
	msgs, err := h.svc.Replay(ctx, req.ChannelID, req.SinceTimestamp)
	if err != nil {
		slog.Error("search replay failed", slog.String("channel", req.ChannelID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to search messages")
		return
	}
	if len(msgs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"answer":       "No messages found in this channel.",
			"messageCount": 0,
		})
		return
	}

	answer, err := h.llm.Answer(ctx, msgs, req.Query)
	if err != nil {
		slog.Error("search answer failed", slog.String("channel", req.ChannelID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to search messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":       answer,
		"query":        req.Query,
		"messageCount": len(msgs),
		"channelId":    req.ChannelID,
	})
}
