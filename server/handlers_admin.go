package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-relay/chat"
	"github.com/onnwee/chat-relay/db"
)

// sampleTexts feeds the synthetic traffic generator.
var sampleTexts = []string{
	"We need to finalize the contract pricing by Friday.",
	"Agreed. The delivery date is set for March 15th.",
	"I will send the updated proposal tomorrow morning.",
	"Can someone review the latest design mockups?",
	"The client approved the budget increase.",
	"Meeting scheduled for 2 PM tomorrow.",
	"Please update the project timeline.",
	"The API integration is complete.",
	"QA testing will begin next week.",
	"All stakeholders have been notified.",
}

// HandleAdminReset wipes the durable store and every cache window.
func (h *Handlers) HandleAdminReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.Info("resetting message store")

	if err := h.store.DeleteAllMessages(ctx); err != nil {
		slog.Error("store reset failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to reset database")
		return
	}
	if err := h.cache.Reset(ctx); err != nil {
		slog.Error("cache reset failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to reset database")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Database reset successfully",
	})
}

// HandleAdminGenerate bulk-loads synthetic messages for load and replay
// testing. Timestamps follow the requested traffic pattern over the last 24h.
func (h *Handlers) HandleAdminGenerate(w http.ResponseWriter, r *http.Request) {
	req := struct {
		MessageCount int    `json:"messageCount"`
		ChannelCount int    `json:"channelCount"`
		UserCount    int    `json:"userCount"`
		Pattern      string `json:"pattern"`
	}{
		MessageCount: 100,
		ChannelCount: 5,
		UserCount:    10,
		Pattern:      "steady",
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.MessageCount <= 0 || req.ChannelCount <= 0 || req.UserCount <= 0 {
		writeError(w, http.StatusBadRequest, "messageCount, channelCount and userCount must be positive")
		return
	}
	switch req.Pattern {
	case "steady", "bursty", "high-traffic":
	default:
		writeError(w, http.StatusBadRequest, "pattern must be steady, bursty or high-traffic")
		return
	}

	ctx := r.Context()
	slog.Info("generating synthetic messages",
		slog.Int("count", req.MessageCount),
		slog.Int("channels", req.ChannelCount),
		slog.String("pattern", req.Pattern))

	msgs := generateMessages(req.MessageCount, req.ChannelCount, req.UserCount, req.Pattern)

	if err := h.store.InsertMessages(ctx, msgs); err != nil {
		slog.Error("bulk insert failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to generate messages")
		return
	}

	// Seed the cache with the last 100 messages per channel so replays hit the
	// fast path immediately.
	byChannel := map[string][]chat.Message{}
	for _, m := range msgs {
		byChannel[m.ChannelID] = append(byChannel[m.ChannelID], m)
	}
	for channelID, channelMsgs := range byChannel {
		if len(channelMsgs) > 100 {
			channelMsgs = channelMsgs[len(channelMsgs)-100:]
		}
		for _, m := range channelMsgs {
			if err := h.cache.InsertMessage(ctx, m); err != nil {
				slog.Warn("cache seed failed", slog.String("channel", channelID), slog.Any("err", err))
				break
			}
		}
		if err := h.cache.RefreshExpiry(ctx, channelID); err != nil {
			slog.Warn("cache expiry refresh failed", slog.String("channel", channelID), slog.Any("err", err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"messageCount": req.MessageCount,
		"channelCount": req.ChannelCount,
		"pattern":      req.Pattern,
	})
}

// generateMessages builds a synthetic message set. Messages are appended in
// ascending timestamp order within the 24h window ending now.
func generateMessages(messageCount, channelCount, userCount int, pattern string) []chat.Message {
	start := time.Now().Add(-24 * time.Hour).UnixMilli()
	window := int64(24 * time.Hour / time.Millisecond)

	msgs := make([]chat.Message, 0, messageCount)
	for i := 0; i < messageCount; i++ {
		var ts int64
		switch pattern {
		case "bursty":
			// Every 20 messages open a new hourly burst, scattered within a minute.
			burstStart := start + int64(i/20)*int64(time.Hour/time.Millisecond)
			ts = burstStart + rand.Int63n(int64(time.Minute / time.Millisecond))
		case "high-traffic":
			ts = start + int64(i)*100
		default: // steady
			ts = start + int64(i)*window/int64(messageCount)
		}
		msgs = append(msgs, chat.Message{
			MessageID: uuid.NewString(),
			ChannelID: fmt.Sprintf("channel-%d", rand.Intn(channelCount)+1),
			UserID:    fmt.Sprintf("user-%d", rand.Intn(userCount)+1),
			Text:      sampleTexts[rand.Intn(len(sampleTexts))],
			Timestamp: ts,
		})
	}
	return msgs
}

// HandleAdminMessages dumps stored messages, capped to keep the response
// bounded.
func (h *Handlers) HandleAdminMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.AllMessages(r.Context(), 10000)
	if err != nil {
		slog.Error("message dump failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": emptyMessages(msgs),
		"count":    len(msgs),
	})
}

// HandleAdminMetrics reports store and cache totals plus the cache hit ratio.
func (h *Handlers) HandleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.store.CountMessages(ctx)
	if err != nil {
		slog.Error("metrics count failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch metrics")
		return
	}
	channels, err := h.store.CountByChannel(ctx)
	if err != nil {
		slog.Error("metrics channel count failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch metrics")
		return
	}
	cached, err := h.cache.CountCached(ctx)
	if err != nil {
		slog.Error("metrics cache count failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch metrics")
		return
	}

	hitRatio := 0.0
	if total > 0 {
		hitRatio = float64(cached) / float64(total) * 100
	}
	if channels == nil {
		channels = []db.ChannelCount{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalMessages":   total,
		"channelCount":    len(channels),
		"channels":        channels,
		"cachedMessages":  cached,
		"cacheHitRatio":   hitRatio,
		"liveConnections": h.registry.Count(),
	})
}
