// Package chat implements the core message pipeline: durable ingestion with a
// write-through cache, live fanout to channel subscribers, and replay for
// reconnecting clients. The durable store is authoritative; the cache is a
// bounded recent-history accelerator whose absence only adds replay latency.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-relay/telemetry"
)

// ErrPersistence marks durable store failures. Operations that hit it abort
// and surface the error to the caller; it is never swallowed.
var ErrPersistence = errors.New("persistence failure")

// Message is an immutable chat record. Timestamp is milliseconds since epoch,
// server-assigned at ingest; ordering is guaranteed per channel only.
type Message struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// DurableStore is the authoritative, permanent record of all messages.
type DurableStore interface {
	InsertMessage(ctx context.Context, msg Message) error
	MessagesAfter(ctx context.Context, channelID string, after int64) ([]Message, error)
}

// Cache holds a time-limited window of recent messages per channel. All
// failures here are non-fatal to callers.
type Cache interface {
	InsertMessage(ctx context.Context, msg Message) error
	MessagesAfter(ctx context.Context, channelID string, after int64) ([]Message, error)
	RefreshExpiry(ctx context.Context, channelID string) error
}

// Broadcaster pushes a payload to every live subscriber of a channel,
// best-effort and at-most-once per connection.
type Broadcaster interface {
	Broadcast(channelID string, payload any)
}

// NewMessageEvent is the envelope fanned out to channel subscribers after a
// successful ingest.
type NewMessageEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// EventNewMessage is the type discriminator on NewMessageEvent.
const EventNewMessage = "new_message"

// Service wires the durable store, cache, and fanout together.
type Service struct {
	store  DurableStore
	cache  Cache
	fanout Broadcaster
}

// NewService constructs a Service. fanout may be nil when live distribution is
// not wanted (e.g. offline tooling); store and cache are required.
func NewService(store DurableStore, cache Cache, fanout Broadcaster) *Service {
	return &Service{store: store, cache: cache, fanout: fanout}
}

// Send assigns an id and timestamp to a new message and ingests it. This is
// the synchronous entry point used by both the websocket gateway and the HTTP
// API (sender identity is the caller's responsibility).
func (s *Service) Send(ctx context.Context, channelID, userID, text string) (Message, error) {
	msg := Message{
		MessageID: uuid.NewString(),
		ChannelID: channelID,
		UserID:    userID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.Ingest(ctx, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Ingest persists msg, mirrors it into the cache, and fans it out.
//
// The dual write is not transactional: the durable write happens first and a
// failure there aborts the whole ingest. A cache failure after that point is
// logged and ignored, since the durable store already holds the message and
// replay falls back to it on a cache miss.
func (s *Service) Ingest(ctx context.Context, msg Message) error {
	start := time.Now()

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if telemetry.IngestFailures != nil {
			telemetry.IngestFailures.Inc()
		}
		return fmt.Errorf("%w: insert message %s: %v", ErrPersistence, msg.MessageID, err)
	}

	if err := s.cache.InsertMessage(ctx, msg); err != nil {
		s.cacheDegraded(ctx, "cache insert failed", msg.ChannelID, err)
	} else if err := s.cache.RefreshExpiry(ctx, msg.ChannelID); err != nil {
		s.cacheDegraded(ctx, "cache expiry refresh failed", msg.ChannelID, err)
	}

	if s.fanout != nil {
		s.fanout.Broadcast(msg.ChannelID, NewMessageEvent{Type: EventNewMessage, Message: msg})
	}

	if telemetry.MessagesIngested != nil {
		telemetry.MessagesIngested.Inc()
	}
	if telemetry.IngestDuration != nil {
		telemetry.IngestDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Replay returns all messages on channelID with timestamp strictly greater
// than lastTimestamp, ascending.
//
// A non-empty cache window is trusted as complete and the durable store is not
// consulted. A client that stayed away longer than the cache TTL and
// reconnects after a partial re-fill can therefore see a truncated result;
// this latency/consistency trade-off is deliberate.
func (s *Service) Replay(ctx context.Context, channelID string, lastTimestamp int64) ([]Message, error) {
	start := time.Now()
	defer func() {
		if telemetry.ReplayDuration != nil {
			telemetry.ReplayDuration.Observe(time.Since(start).Seconds())
		}
	}()

	cached, err := s.cache.MessagesAfter(ctx, channelID, lastTimestamp)
	if err != nil {
		s.cacheDegraded(ctx, "cache replay failed", channelID, err)
	} else if len(cached) > 0 {
		if telemetry.ReplayCacheHits != nil {
			telemetry.ReplayCacheHits.Inc()
		}
		return cached, nil
	}

	if telemetry.ReplayCacheMisses != nil {
		telemetry.ReplayCacheMisses.Inc()
	}
	msgs, err := s.store.MessagesAfter(ctx, channelID, lastTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: replay channel %s: %v", ErrPersistence, channelID, err)
	}
	return msgs, nil
}

func (s *Service) cacheDegraded(ctx context.Context, what, channelID string, err error) {
	if telemetry.CacheErrors != nil {
		telemetry.CacheErrors.Inc()
	}
	telemetry.LoggerWithCorr(ctx).Warn(what+"; continuing without cache",
		slog.String("channel", channelID), slog.Any("err", err), slog.String("component", "chat"))
}
