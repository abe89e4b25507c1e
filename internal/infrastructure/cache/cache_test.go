package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

func testConfig() config.CacheConfig {
	addr := os.Getenv("ELECTROLYSER_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	return config.CacheConfig{Enabled: true, Addr: addr, DB: 15, TTL: 1, KeyPrefix: "electrolyser-test"}
}

// skipIfNoRedis skips the test if Redis is not reachable.
func skipIfNoRedis(t *testing.T) *Client {
	t.Helper()
	c, err := Connect(context.Background(), testConfig())
	if err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:1"
	if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", 0)
	defer c.Close() //nolint:errcheck // Test cleanup

	if c.ttl != defaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, defaultTTL)
	}
	if got := c.LatestKey(3); got != "electrolyser:latest:3" {
		t.Errorf("LatestKey(3) = %q, want %q", got, "electrolyser:latest:3")
	}
	if c.Name() != "redis" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestRecordFlushedAndLatest_Integration(t *testing.T) {
	c := skipIfNoRedis(t)
	ctx := context.Background()

	snap := telemetry.Snapshot{
		DeviceID:    9,
		MachineName: "9#",
		Timestamp:   time.Date(2025, 10, 27, 16, 0, 1, 0, time.UTC),
		Fields:      map[string]any{"total_current": 950.0, "machine_model": "AEM-5"},
	}
	if err := c.RecordFlushed(ctx, snap); err != nil {
		t.Fatalf("RecordFlushed() error = %v", err)
	}

	got, ok, err := c.Latest(ctx, 9)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if !ok {
		t.Fatal("Latest() ok = false, want true")
	}
	if got.Fields["total_current"] != 950.0 || got.Fields["machine_model"] != "AEM-5" {
		t.Errorf("Latest() fields = %v", got.Fields)
	}
	if !got.Timestamp.Equal(snap.Timestamp) {
		t.Errorf("Latest() timestamp = %v, want %v", got.Timestamp, snap.Timestamp)
	}

	if _, ok, err := c.Latest(ctx, 14); err != nil || ok {
		t.Errorf("Latest(miss) = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}
