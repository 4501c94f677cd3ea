package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests per window
	Window time.Duration // Sliding window length
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding-window limiter over Redis sorted sets. Each
// request is a member scored by its arrival time; members older than the
// window are trimmed before counting.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	cfg    RateLimitConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		cfg:    cfg,
	}
}

// Allow checks whether one request under key fits in the current window and,
// if it does, records it.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	redisKey := "ratelimit:" + key
	windowFloor := strconv.FormatInt(now.Add(-r.cfg.Window).UnixNano(), 10)

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", windowFloor)
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit window trim: %w", err)
	}

	used := int(countCmd.Val())
	result := &RateLimitResult{
		Remaining: max(0, r.cfg.Limit-used-1),
		ResetAt:   now.Add(r.cfg.Window),
	}

	if used >= r.cfg.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("used", used),
			zap.Int("limit", r.cfg.Limit),
		)
		return result, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	record := r.client.rdb.Pipeline()
	record.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	record.Expire(ctx, redisKey, r.cfg.Window+time.Second)
	if _, err := record.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit record: %w", err)
	}

	result.Allowed = true
	return result, nil
}
