package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a client-provided Idempotency-Key maps to
	// its booking. Long enough that a mobile client retrying a timed-out
	// booking gets the original appointment back, not a double booking.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL is the lock duration while a booking is in flight.
	processingTTL = 2 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates the same idempotency key is being processed
// right now.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// IdempotencyResult is the cached outcome of a booking request.
type IdempotencyResult struct {
	AppointmentID string `json:"appointment_id"`
	StatusCode    int    `json:"status_code"`
	CreatedAt     int64  `json:"created_at"`
}

// IdempotencyService deduplicates booking requests per business using Redis.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(businessID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", businessID, idempotencyKey)
}

// Check retrieves a cached result for an idempotency key.
// Returns (nil, nil) if the key doesn't exist, (result, nil) if found,
// or ErrDuplicateRequest if the key is currently being processed.
func (s *IdempotencyService) Check(ctx context.Context, businessID, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(businessID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("business_id", businessID),
		zap.String("appointment_id", result.AppointmentID),
	)
	return &result, nil
}

// Store saves the result of a successfully processed booking.
func (s *IdempotencyService) Store(ctx context.Context, businessID, idempotencyKey string, result *IdempotencyResult) error {
	key := s.buildKey(businessID, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation after a failed booking so the client may retry
// with the same key.
func (s *IdempotencyService) Release(ctx context.Context, businessID, idempotencyKey string) error {
	key := s.buildKey(businessID, idempotencyKey)
	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Reserve acquires an idempotency lock using SET NX.
// Returns true if acquired, false if the key already exists.
func (s *IdempotencyService) Reserve(ctx context.Context, businessID, idempotencyKey string) (bool, error) {
	key := s.buildKey(businessID, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// CheckOrReserve atomically checks for an existing result or reserves the key.
// Returns the cached result if found, nil if reserved successfully.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, businessID, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, businessID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, businessID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}
	return nil, nil
}
