package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/onnwee/chat-relay/cache"
)

// SetupTestRedis connects to a test Redis instance. It skips the test if
// TEST_REDIS_URL environment variable is not set.
func SetupTestRedis(t *testing.T, ttl time.Duration) *cache.ChannelCache {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	c, err := cache.New(context.Background(), url, ttl)
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Reset(context.Background())
		_ = c.Close()
	})
	return c
}
