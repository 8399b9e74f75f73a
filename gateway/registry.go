// Package gateway holds the live side of the service: the connection registry
// with channel fanout, the websocket handler speaking the client protocol,
// and the liveness monitor that reaps dead sockets.
package gateway

import (
	"log/slog"
	"sync"

	"github.com/onnwee/chat-relay/telemetry"
)

// Transport is the writable side of one client connection. Implementations
// must serialize their own writes; the registry may call them from several
// goroutines.
type Transport interface {
	WriteJSON(v any) error
	Ping() error
	Close() error
}

// connection is one registered client session. Guarded by Registry.mu.
type connection struct {
	userID      string
	transport   Transport
	channels    map[string]struct{}
	missedPings int
}

// Registry tracks live connections and their channel subscriptions. It is the
// only process-wide mutable state: constructed empty at startup, injected
// into the handlers, torn down with CloseAll at shutdown. All mutations are
// single-step under the mutex; no lock is held across a network write.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connection)}
}

// Register installs a connection for userID. A second connect for the same
// user replaces the registry entry; the displaced transport is notified with
// a session_replaced event and closed.
func (r *Registry) Register(userID string, t Transport) {
	r.mu.Lock()
	displaced := r.conns[userID]
	r.conns[userID] = &connection{
		userID:    userID,
		transport: t,
		channels:  make(map[string]struct{}),
	}
	n := len(r.conns)
	r.mu.Unlock()

	if displaced != nil {
		slog.Info("replacing existing session", slog.String("user", userID), slog.String("component", "registry"))
		if err := displaced.transport.WriteJSON(SessionReplacedEvent{Type: TypeSessionReplaced}); err != nil {
			slog.Debug("displaced session notify failed", slog.String("user", userID), slog.Any("err", err))
		}
		if err := displaced.transport.Close(); err != nil {
			slog.Debug("displaced session close failed", slog.String("user", userID), slog.Any("err", err))
		}
	}

	telemetry.SetLiveConnections(n)
	slog.Info("user connected", slog.String("user", userID), slog.Int("connections", n))
}

// Subscribe adds channelID to the user's subscription set. Idempotent, and a
// no-op for unknown users: a join racing a disconnect must not fail the caller.
func (r *Registry) Subscribe(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[userID]
	if !ok {
		return
	}
	conn.channels[channelID] = struct{}{}
}

// Unsubscribe removes channelID from the user's subscription set. Idempotent.
func (r *Registry) Unsubscribe(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[userID]
	if !ok {
		return
	}
	delete(conn.channels, channelID)
}

// Subscribed reports whether userID currently subscribes to channelID.
func (r *Registry) Subscribed(userID, channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	if !ok {
		return false
	}
	_, ok = conn.channels[channelID]
	return ok
}

// Deregister removes the connection and all its subscriptions, closing its
// transport. Safe to call for unknown users.
func (r *Registry) Deregister(userID string) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.transport.Close(); err != nil {
		slog.Debug("transport close on deregister", slog.String("user", userID), slog.Any("err", err))
	}
	telemetry.SetLiveConnections(n)
	slog.Info("user disconnected", slog.String("user", userID), slog.Int("connections", n))
}

// deregisterTransport removes userID only while t is still its registered
// transport. The read loop of a replaced session uses this so its teardown
// cannot evict the successor.
func (r *Registry) deregisterTransport(userID string, t Transport) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if !ok || conn.transport != t {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)
	n := len(r.conns)
	r.mu.Unlock()

	if err := conn.transport.Close(); err != nil {
		slog.Debug("transport close on deregister", slog.String("user", userID), slog.Any("err", err))
	}
	telemetry.SetLiveConnections(n)
	slog.Info("user disconnected", slog.String("user", userID), slog.Int("connections", n))
}

// Broadcast delivers payload to every connection subscribed to channelID.
// Delivery is best-effort and at-most-once per connection: a failed write is
// logged and skipped, never retried and never surfaced to the sender. The
// subscription set is snapshotted under the read lock; writes happen after it
// is released.
func (r *Registry) Broadcast(channelID string, payload any) {
	r.mu.RLock()
	targets := make([]*connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if _, ok := conn.channels[channelID]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.transport.WriteJSON(payload); err != nil {
			if telemetry.FanoutFailed != nil {
				telemetry.FanoutFailed.Inc()
			}
			slog.Warn("fanout delivery failed", slog.String("user", conn.userID), slog.String("channel", channelID), slog.Any("err", err))
			continue
		}
		if telemetry.FanoutDelivered != nil {
			telemetry.FanoutDelivered.Inc()
		}
	}
}

// Send unicasts payload to a single user. Returns false for unknown users.
func (r *Registry) Send(userID string, payload any) bool {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := conn.transport.WriteJSON(payload); err != nil {
		slog.Warn("unicast failed", slog.String("user", userID), slog.Any("err", err))
		return false
	}
	return true
}

// MarkAlive resets the missed-probe counter for userID. Called on pong.
func (r *Registry) MarkAlive(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[userID]; ok {
		conn.missedPings = 0
	}
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll deregisters every connection. Called at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.transport.Close(); err != nil {
			slog.Debug("transport close at shutdown", slog.String("user", conn.userID), slog.Any("err", err))
		}
	}
	telemetry.SetLiveConnections(0)
}
