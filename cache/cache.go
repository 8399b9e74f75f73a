// Package cache implements the Redis-backed fast cache: a per-channel sorted
// set of recent messages scored by timestamp, with a sliding expiry refreshed
// on every write. It is a non-authoritative accelerator; losing it costs
// replay latency, never data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/chat-relay/chat"
)

// DefaultTTL is the sliding expiry window applied when none is configured.
const DefaultTTL = 1800 * time.Second

// ChannelCache handles Redis operations for the recent-message window.
// It implements chat.Cache.
type ChannelCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*ChannelCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *ChannelCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ChannelCache{client: client, ttl: ttl}
}

// Close closes the Redis connection.
func (c *ChannelCache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *ChannelCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// TTL returns the configured sliding expiry window.
func (c *ChannelCache) TTL() time.Duration { return c.ttl }

// channelKey returns the key for a channel's message sorted set.
func channelKey(channelID string) string {
	return fmt.Sprintf("channel:%s", channelID)
}

// InsertMessage adds a message to the channel's sorted set, ordered by
// timestamp. It does not touch the expiry; callers refresh it separately so a
// failed insert never extends a stale window.
func (c *ChannelCache) InsertMessage(ctx context.Context, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return c.client.ZAdd(ctx, channelKey(msg.ChannelID), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	}).Err()
}

// RefreshExpiry resets the channel window's TTL.
func (c *ChannelCache) RefreshExpiry(ctx context.Context, channelID string) error {
	return c.client.Expire(ctx, channelKey(channelID), c.ttl).Err()
}

// MessagesAfter returns cached messages with timestamp strictly greater than
// after, ascending. An expired or absent key yields an empty result, not an
// error.
func (c *ChannelCache) MessagesAfter(ctx context.Context, channelID string, after int64) ([]chat.Message, error) {
	results, err := c.client.ZRangeByScore(ctx, channelKey(channelID), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", after), // exclusive
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(results))
	for _, data := range results {
		var msg chat.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			slog.Warn("skipping undecodable cache entry", slog.String("channel", channelID), slog.Any("err", err))
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Reset deletes every channel window. Admin reset only.
func (c *ChannelCache) Reset(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, channelKey("*")).Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// CountCached sums the cardinality of all channel windows. Used by the admin
// metrics endpoint to report the cache hit ratio.
func (c *ChannelCache) CountCached(ctx context.Context) (int64, error) {
	keys, err := c.client.Keys(ctx, channelKey("*")).Result()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		n, err := c.client.ZCard(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
