package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/redis"
)

func setupRateLimiter(t *testing.T, limit int) (*redis.RateLimiter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	client, err := redis.New(context.Background(), redis.Config{Host: host, Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  limit,
		Window: time.Minute,
	})
	return limiter, func() {
		client.Close()
		mr.Close()
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_EnforcesLimit(t *testing.T) {
	limiter, cleanup := setupRateLimiter(t, 2)
	defer cleanup()

	handler := RateLimitMiddleware(limiter, zap.NewNop(), BusinessKeyFunc)(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/v1/availability", nil)
		req.Header.Set("X-Business-ID", "biz-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/v1/availability", nil)
	req.Header.Set("X-Business-ID", "biz-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimitMiddleware_IndependentBusinesses(t *testing.T) {
	limiter, cleanup := setupRateLimiter(t, 1)
	defer cleanup()

	handler := RateLimitMiddleware(limiter, zap.NewNop(), BusinessKeyFunc)(okHandler())

	first := httptest.NewRequest("GET", "/v1/availability", nil)
	first.Header.Set("X-Business-ID", "biz-a")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, first)
	if rec1.Code != http.StatusOK {
		t.Fatalf("biz-a: expected 200, got %d", rec1.Code)
	}

	second := httptest.NewRequest("GET", "/v1/availability", nil)
	second.Header.Set("X-Business-ID", "biz-b")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, second)
	if rec2.Code != http.StatusOK {
		t.Fatalf("biz-b must have its own budget, got %d", rec2.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil, zap.NewNop(), BusinessKeyFunc)(okHandler())

	req := httptest.NewRequest("GET", "/v1/availability", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_NoKeySkipsLimit(t *testing.T) {
	limiter, cleanup := setupRateLimiter(t, 1)
	defer cleanup()

	handler := RateLimitMiddleware(limiter, zap.NewNop(), BusinessKeyFunc)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/v1/availability", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("keyless request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}
