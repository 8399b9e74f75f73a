package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chat-relay/chat"
)

// writeWait bounds how long a single frame write may block.
const writeWait = 10 * time.Second

// wsTransport wraps a gorilla connection with write serialization. Gorilla
// allows only one concurrent writer; the read loop, fanout, and liveness
// monitor all write here.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// closeWithReason sends a close frame before tearing the socket down.
func (t *wsTransport) closeWithReason(code int, reason string) {
	t.mu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	t.mu.Unlock()
	_ = t.conn.Close()
}

// Handler upgrades websocket connections and speaks the client protocol:
// registration, join/leave, send, and replay.
type Handler struct {
	ctx      context.Context
	registry *Registry
	svc      *chat.Service
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket endpoint. The context outlives individual
// requests and is used for store operations triggered by socket traffic.
func NewHandler(ctx context.Context, registry *Registry, svc *chat.Service, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return &Handler{
		ctx:      ctx,
		registry: registry,
		svc:      svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin header.
				return origin == "" || allowed[origin]
			},
		},
	}
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	transport := newWSTransport(conn)

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		transport.closeWithReason(websocket.ClosePolicyViolation, "missing X-User-Id header")
		return
	}

	h.registry.Register(userID, transport)
	defer h.registry.deregisterTransport(userID, transport)

	conn.SetPongHandler(func(string) error {
		h.registry.MarkAlive(userID)
		return nil
	})

	if err := transport.WriteJSON(ConnectedEvent{
		Type:      TypeConnected,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("connected ack failed", slog.String("user", userID), slog.Any("err", err))
		return
	}

	h.readLoop(userID, conn, transport)
}

// readLoop consumes envelopes until the socket dies. A malformed envelope is
// reported to the sender and the loop continues; transport errors end it.
func (h *Handler) readLoop(userID string, conn *websocket.Conn, transport *wsTransport) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if isDecodeError(err) {
				h.sendError(transport, userID, "Failed to process message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error", slog.String("user", userID), slog.Any("err", err))
			}
			return
		}
		h.dispatch(userID, transport, env)
	}
}

func (h *Handler) dispatch(userID string, transport *wsTransport, env Envelope) {
	switch env.Type {
	case TypeJoinChannel:
		if env.ChannelID == "" {
			h.sendError(transport, userID, "channelId is required")
			return
		}
		h.registry.Subscribe(userID, env.ChannelID)
		if err := transport.WriteJSON(JoinedChannelEvent{
			Type:      TypeJoinedChannel,
			ChannelID: env.ChannelID,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			slog.Warn("join ack failed", slog.String("user", userID), slog.Any("err", err))
		}

	case TypeLeaveChannel:
		h.registry.Unsubscribe(userID, env.ChannelID)

	case TypeSendMessage:
		if env.ChannelID == "" || env.Text == "" {
			h.sendError(transport, userID, "channelId and text are required")
			return
		}
		// Sender identity comes from the registered connection, not the payload.
		if _, err := h.svc.Send(h.ctx, env.ChannelID, userID, env.Text); err != nil {
			slog.Error("send failed", slog.String("user", userID), slog.String("channel", env.ChannelID), slog.Any("err", err))
			h.sendError(transport, userID, "Failed to send message")
		}

	case TypeReplayMessages:
		if env.ChannelID == "" {
			h.sendError(transport, userID, "channelId is required")
			return
		}
		msgs, err := h.svc.Replay(h.ctx, env.ChannelID, env.LastTimestamp)
		if err != nil {
			slog.Error("replay failed", slog.String("user", userID), slog.String("channel", env.ChannelID), slog.Any("err", err))
			h.sendError(transport, userID, "Failed to replay messages")
			return
		}
		if err := transport.WriteJSON(ReplayResponse{
			Type:      TypeReplayResponse,
			ChannelID: env.ChannelID,
			Messages:  msgs,
			Count:     len(msgs),
		}); err != nil {
			slog.Warn("replay response failed", slog.String("user", userID), slog.Any("err", err))
		}

	default:
		h.sendError(transport, userID, fmt.Sprintf("Unknown message type: %s", env.Type))
	}
}

func (h *Handler) sendError(transport *wsTransport, userID, msg string) {
	if err := transport.WriteJSON(ErrorEvent{Type: TypeError, Message: msg}); err != nil {
		slog.Debug("error event write failed", slog.String("user", userID), slog.Any("err", err))
	}
}

// isDecodeError reports whether err came from JSON decoding rather than the
// socket itself.
func isDecodeError(err error) bool {
	switch err.(type) {
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return true
	}
	return false
}
