package gateway

import "github.com/onnwee/chat-relay/chat"

// Inbound envelope types.
const (
	TypeJoinChannel    = "join_channel"
	TypeLeaveChannel   = "leave_channel"
	TypeSendMessage    = "send_message"
	TypeReplayMessages = "replay_messages"
)

// Outbound event types.
const (
	TypeConnected       = "connected"
	TypeJoinedChannel   = "joined_channel"
	TypeReplayResponse  = "replay_response"
	TypeError           = "error"
	TypeSessionReplaced = "session_replaced"
)

// Envelope is the tagged inbound client message. Type selects the variant;
// the remaining fields are populated per type.
type Envelope struct {
	Type          string `json:"type"`
	ChannelID     string `json:"channelId,omitempty"`
	Text          string `json:"text,omitempty"`
	LastTimestamp int64  `json:"lastTimestamp,omitempty"`
}

// ConnectedEvent acknowledges a successful handshake.
type ConnectedEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// JoinedChannelEvent acknowledges a join_channel request.
type JoinedChannelEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	Timestamp int64  `json:"timestamp"`
}

// ReplayResponse carries recovered history back to the requester.
type ReplayResponse struct {
	Type      string         `json:"type"`
	ChannelID string         `json:"channelId"`
	Messages  []chat.Message `json:"messages"`
	Count     int            `json:"count"`
}

// ErrorEvent reports a per-request failure to the originating connection only;
// the connection stays open.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionReplacedEvent tells a displaced connection that a newer session for
// the same user took its place; the socket is closed right after.
type SessionReplacedEvent struct {
	Type string `json:"type"`
}
