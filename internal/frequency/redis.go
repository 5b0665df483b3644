package frequency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/metrics"
)

// RedisTracker implements the sliding window with one Redis sorted set per
// client, scored by event time in fractional seconds.
type RedisTracker struct {
	client *redis.Client
	window time.Duration
	grace  time.Duration
}

// NewRedisTracker creates a Redis-backed tracker and verifies connectivity.
func NewRedisTracker(cfg domain.FrequencyConfig) (*RedisTracker, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisTracker{
		client: client,
		window: time.Duration(cfg.WindowSeconds) * time.Second,
		grace:  time.Duration(cfg.GraceSeconds) * time.Second,
	}, nil
}

// RecordAndQuery issues the trim/insert/count/last-two/expire sequence as a
// single pipelined round trip. The pipeline is batched for latency, not a
// serializable transaction: concurrent requests from the same client may
// interleave, so counts are approximate. Store failure yields a zeroed
// snapshot and an error the caller can log; the pipeline fails open.
func (t *RedisTracker) RecordAndQuery(ctx context.Context, clientKey string, now time.Time) (domain.FrequencySnapshot, error) {
	if clientKey == "" {
		return domain.ZeroSnapshot(), fmt.Errorf("clientKey is required")
	}

	key := t.makeKey(clientKey)
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	cutoff := nowSec - t.window.Seconds()

	pipe := t.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", cutoff))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  nowSec,
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	card := pipe.ZCard(ctx, key)
	lastTwo := pipe.ZRevRangeWithScores(ctx, key, 0, 1)
	pipe.Expire(ctx, key, t.window+t.grace)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.FrequencyStoreFailures.Inc()
		return domain.ZeroSnapshot(), fmt.Errorf("frequency round trip failed: %w", err)
	}

	// ZCard ran after the insert; subtract the event just recorded.
	count := card.Val() - 1
	if count < 0 {
		count = 0
	}

	snap := domain.FrequencySnapshot{
		Count:            count,
		SecondsSinceLast: domain.UnknownNumeric,
	}
	if members := lastTwo.Val(); len(members) >= 2 {
		snap.SecondsSinceLast = members[0].Score - members[1].Score
	}

	return snap, nil
}

// Ping checks Redis connectivity.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func (t *RedisTracker) makeKey(clientKey string) string {
	return "kestrel:freq:" + clientKey
}
