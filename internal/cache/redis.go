package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ppmt-amp-api/internal/model"
	"ppmt-amp-api/internal/ratelimit"

	"github.com/redis/go-redis/v9"
)

// Hash fields of a device record. Instants are unix microseconds.
const (
	fieldCount = "count"
	fieldStart = "start"
	fieldLast  = "last"
)

// resetIfStaleScript opens a new window unless the stored one started after ARGV[2].
var resetIfStaleScript = redis.NewScript(`
	local start = redis.call("HGET", KEYS[1], "start")
	if start and tonumber(start) > tonumber(ARGV[2]) then
		return 0
	end
	redis.call("HSET", KEYS[1], "count", 1, "start", ARGV[1], "last", ARGV[1])
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
	return 1
`)

// RedisConfig holds connection settings for the Redis store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisRateLimitStore keeps one hash per device. Keys expire after two idle windows.
type RedisRateLimitStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateLimitStore connects to Redis and verifies the connection.
func NewRedisRateLimitStore(cfg RedisConfig) (*RedisRateLimitStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisRateLimitStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisRateLimitStoreWithClient wraps an existing client.
func NewRedisRateLimitStoreWithClient(client *redis.Client, keyPrefix string) *RedisRateLimitStore {
	if keyPrefix == "" {
		keyPrefix = "ppmt-amp:ratelimit"
	}
	return &RedisRateLimitStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisRateLimitStore) key(deviceID string) string {
	return s.keyPrefix + ":" + deviceID
}

// Get returns the device's record, or nil when none exists.
func (s *RedisRateLimitStore) Get(ctx context.Context, deviceID string) (*model.RateLimitRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.key(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit record: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	count, err := strconv.Atoi(vals[fieldCount])
	if err != nil {
		return nil, fmt.Errorf("corrupt rate limit count: %w", err)
	}
	start, _ := strconv.ParseInt(vals[fieldStart], 10, 64)
	last, _ := strconv.ParseInt(vals[fieldLast], 10, 64)

	return &model.RateLimitRecord{
		DeviceID:     deviceID,
		RequestCount: count,
		WindowStart:  time.UnixMicro(start).UTC(),
		LastRequest:  time.UnixMicro(last).UTC(),
	}, nil
}

// Reset opens a new window through a script so the staleness check and the
// write happen atomically on the server.
func (s *RedisRateLimitStore) Reset(ctx context.Context, deviceID string, now, staleBefore time.Time) error {
	ok, err := resetIfStaleScript.Run(ctx, s.client,
		[]string{s.key(deviceID)},
		now.UnixMicro(), staleBefore.UnixMicro(), idleTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to reset rate limit record: %w", err)
	}
	if ok == 0 {
		return ratelimit.ErrConditionFailed
	}
	return nil
}

// Increment adds one request with HINCRBY and refreshes the idle expiry.
func (s *RedisRateLimitStore) Increment(ctx context.Context, deviceID string, now time.Time) error {
	key := s.key(deviceID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldCount, 1)
		pipe.HSet(ctx, key, fieldLast, now.UnixMicro())
		pipe.HSetNX(ctx, key, fieldStart, now.UnixMicro())
		pipe.PExpire(ctx, key, idleTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment rate limit record: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisRateLimitStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisRateLimitStore) Close() error {
	return s.client.Close()
}

var _ ratelimit.Store = (*RedisRateLimitStore)(nil)
