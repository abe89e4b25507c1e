package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

const (
	defaultTTL     = 24 * time.Hour
	connectTimeout = 5 * time.Second
)

// Client keeps the most recently flushed record per device in Redis.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Connect creates the Redis client and verifies it with a ping.
//
// Parameters:
//   - ctx: Context bounding the ping
//   - cfg: Cache configuration from config.yaml
//
// Returns:
//   - *Client: Connected cache
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping error
func Connect(ctx context.Context, cfg config.CacheConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	ttl := time.Duration(cfg.TTL) * time.Hour
	return New(rdb, cfg.KeyPrefix, ttl), nil
}

// New wraps an existing client. A non-positive ttl selects 24h.
func New(rdb *redis.Client, prefix string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "electrolyser"
	}
	return &Client{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string {
	return "redis"
}

// LatestKey returns the key holding a device's latest record,
// e.g. "electrolyser:latest:3".
func (c *Client) LatestKey(deviceID int) string {
	return c.prefix + ":latest:" + strconv.Itoa(deviceID)
}

// RecordFlushed overwrites the device's latest record. Entries expire
// after the TTL so decommissioned units drop out of the cache.
func (c *Client) RecordFlushed(ctx context.Context, snap telemetry.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, c.LatestKey(snap.DeviceID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching latest record: %w", err)
	}
	return nil
}

// Latest returns the cached record for a device. ok is false on a miss.
func (c *Client) Latest(ctx context.Context, deviceID int) (telemetry.Snapshot, bool, error) {
	data, err := c.rdb.Get(ctx, c.LatestKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return telemetry.Snapshot{}, false, nil
	}
	if err != nil {
		return telemetry.Snapshot{}, false, fmt.Errorf("reading latest record: %w", err)
	}

	var snap telemetry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return telemetry.Snapshot{}, false, fmt.Errorf("decoding latest record: %w", err)
	}
	return snap, true, nil
}

// HealthCheck pings Redis.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the client. Safe on a nil Client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
