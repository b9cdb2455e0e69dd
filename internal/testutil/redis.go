package testutil

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis returns a Redis client pointed at the test instance and
// flushes its database. Tests are skipped when Redis is not reachable.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", "localhost:6379")
	// Keep test data away from any local development instance.
	db := 9
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available for testing at %s: %v", addr, err)
	}
	client.FlushDB(ctx)

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cleanupCancel()
		client.FlushDB(cleanupCtx)
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close redis client: %v", err)
		}
	})
	return client
}
