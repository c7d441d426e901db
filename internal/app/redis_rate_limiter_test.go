package app

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisTransferLimiter_DisabledIsNoop(t *testing.T) {
	var nilLimiter *RedisTransferLimiter
	if err := nilLimiter.AllowTransfer(context.Background(), 1); err != nil {
		t.Fatalf("expected nil limiter to allow, got %v", err)
	}
	if err := NewRedisTransferLimiter(nil, "", 5).AllowTransfer(context.Background(), 1); err != nil {
		t.Fatalf("expected limiter without client to allow, got %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	if err := NewRedisTransferLimiter(client, "svc", 0).AllowTransfer(context.Background(), 1); err != nil {
		t.Fatalf("expected zero allowance to disable limiting, got %v", err)
	}
}

func TestRedisTransferLimiter_BucketIsPerOriginAndWindowAligned(t *testing.T) {
	limiter := NewRedisTransferLimiter(nil, " svc: ", 5)
	now := time.Date(2024, time.March, 5, 14, 30, 42, 500_000_000, time.UTC)

	key, resetAt := limiter.bucket(7, now)
	windowStart := time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)
	if want := "svc:transfer_limit:7:" + strconv.FormatInt(windowStart.Unix(), 10); key != want {
		t.Fatalf("expected key %q, got %q", want, key)
	}
	if !resetAt.Equal(windowStart.Add(time.Minute)) {
		t.Fatalf("expected window to close at %s, got %s", windowStart.Add(time.Minute), resetAt)
	}

	otherOrigin, _ := limiter.bucket(8, now)
	nextWindow, _ := limiter.bucket(7, now.Add(time.Minute))
	if otherOrigin == key || nextWindow == key {
		t.Fatalf("expected distinct keys per origin and window, got %q %q %q", key, otherOrigin, nextWindow)
	}

	if got := retryAfterSeconds(now, resetAt); got != 18 {
		t.Fatalf("expected 18 seconds until reset, got %d", got)
	}
	if got := retryAfterSeconds(resetAt, resetAt); got != 1 {
		t.Fatalf("expected retry-after floor of 1, got %d", got)
	}
}

func TestRedisTransferLimiter_UnreachableRedisIsNotRateLimited(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	err := NewRedisTransferLimiter(client, "svc", 5).AllowTransfer(context.Background(), 1)
	if err == nil {
		t.Fatal("expected an error from an unreachable redis")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected a connection error, not a rate limit: %v", err)
	}
}
