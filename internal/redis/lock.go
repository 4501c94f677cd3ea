package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lua scripts comparing the stored token before touching the key, so an
// expired holder cannot renew or release a lock someone else now owns.
var (
	renewScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)

	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

// Lock is a single-holder distributed lock. Each Lock value carries its own
// token; the same value must be used for Acquire, Renew, and Release.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLock creates a lock on the given name with the given TTL.
func NewLock(client *Client, name string, ttl time.Duration, logger *zap.Logger) *Lock {
	return &Lock{
		client: client,
		key:    fmt.Sprintf("lock:%s", name),
		token:  uuid.NewString(),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lock if free. Returns false without error when another
// holder owns it. Re-acquiring a lock this value already holds succeeds by
// renewing it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	set, err := l.client.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if set {
		return true, nil
	}
	// Not set: either held elsewhere or held by us from a previous tick
	// whose Release failed. Renew tells the two apart.
	renewed, err := l.Renew(ctx)
	if err != nil {
		return false, err
	}
	return renewed, nil
}

// Renew extends the TTL if this value still holds the lock.
func (l *Lock) Renew(ctx context.Context) (bool, error) {
	res, err := renewScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock renew failed: %w", err)
	}
	return res == 1, nil
}

// Release frees the lock if this value still holds it. Releasing a lock that
// expired or was taken over is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("redis lock release failed: %w", err)
	}
	if res == 0 {
		l.logger.Debug("lock already expired or taken over", zap.String("key", l.key))
	}
	return nil
}
