package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/flightgen/internal/types"
)

const (
	// RunTTL is how long run summaries are kept
	RunTTL = 24 * time.Hour
	// DefaultKPITTL is how long cached dashboard answers are kept
	DefaultKPITTL = 5 * time.Minute

	latestRunKey = "run:latest"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client. addr is host:port or a redis:// URL.
func New(addr string) (*Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func runKey(runID string) string {
	return "run:" + runID
}

// StoreRunSummary caches a run summary and marks it as the latest run
func (c *Client) StoreRunSummary(ctx context.Context, summary types.RunSummary) error {
	if summary.RunID == "" {
		return errors.New("run summary has no run id")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	if err := c.client.Set(ctx, runKey(summary.RunID), data, RunTTL).Err(); err != nil {
		return fmt.Errorf("failed to store run summary: %w", err)
	}
	if err := c.client.Set(ctx, latestRunKey, summary.RunID, RunTTL).Err(); err != nil {
		return fmt.Errorf("failed to store latest run: %w", err)
	}
	return nil
}

// getData retrieves data from Redis and unmarshals it into the target.
// It reports false when the key does not exist.
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}
	return true, nil
}

// GetRunSummary returns a cached run summary
func (c *Client) GetRunSummary(ctx context.Context, runID string) (types.RunSummary, bool, error) {
	var summary types.RunSummary
	found, err := c.getData(ctx, runKey(runID), &summary, "run summary")
	return summary, found, err
}

// LatestRunID returns the id of the most recently stored run
func (c *Client) LatestRunID(ctx context.Context) (string, bool, error) {
	id, err := c.client.Get(ctx, latestRunKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get latest run: %w", err)
	}
	return id, true, nil
}

// LatestRunSummary returns the summary of the most recently stored run
func (c *Client) LatestRunSummary(ctx context.Context) (types.RunSummary, bool, error) {
	id, found, err := c.LatestRunID(ctx)
	if err != nil || !found {
		return types.RunSummary{}, false, err
	}
	return c.GetRunSummary(ctx, id)
}

// DeleteRunSummary removes a cached run summary
func (c *Client) DeleteRunSummary(ctx context.Context, runID string) error {
	return c.client.Del(ctx, runKey(runID)).Err()
}

// KPIKey builds a cache key from the parts that identify a dashboard answer.
// Part order matters; callers sort multi-valued parts first.
func KPIKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "kpi:" + hex.EncodeToString(sum[:16])
}

// SetKPI caches a dashboard answer under key
func (c *Client) SetKPI(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultKPITTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal kpi data: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetKPI loads a cached dashboard answer into target
func (c *Client) GetKPI(ctx context.Context, key string, target interface{}) (bool, error) {
	return c.getData(ctx, key, target, "kpi")
}
