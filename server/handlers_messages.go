package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/chat-relay/chat"
)

// HandleSendMessage accepts a message over HTTP, persists it, and fans it out
// to live subscribers exactly like a websocket send.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channelId"`
		UserID    string `json:"userId"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ChannelID == "" || req.UserID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "channelId, userId and text are required")
		return
	}

	msg, err := h.svc.Send(r.Context(), req.ChannelID, req.UserID, req.Text)
	if err != nil {
		slog.Error("send failed", slog.String("channel", req.ChannelID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleReplay returns messages on a channel after a client-supplied timestamp.
func (h *Handlers) HandleReplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID     string `json:"channelId"`
		LastTimestamp *int64 `json:"lastTimestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ChannelID == "" || req.LastTimestamp == nil {
		writeError(w, http.StatusBadRequest, "channelId and lastTimestamp required")
		return
	}

	msgs, err := h.svc.Replay(r.Context(), req.ChannelID, *req.LastTimestamp)
	if err != nil {
		slog.Error("replay failed", slog.String("channel", req.ChannelID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to replay messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": emptyMessages(msgs),
		"count":    len(msgs),
	})
}

// emptyMessages normalizes a nil slice so JSON renders [] instead of null.
func emptyMessages(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}
