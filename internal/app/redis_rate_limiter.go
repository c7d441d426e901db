package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const transferLimitWindow = time.Minute

// The counter for a window expires exactly when the window closes, so a key never carries
// counts across windows even if the first INCR lands late.
var transferWindowCounter = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[1])
end
return n
`)

// RedisTransferLimiter caps how many transfers one origin account may start per
// minute-aligned window. Counts are shared by every instance using the same Redis.
type RedisTransferLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	perWindow int
	window    time.Duration
	now       func() time.Time
}

// NewRedisTransferLimiter allows perMinute transfers per origin. Zero or less disables it.
func NewRedisTransferLimiter(client redis.UniversalClient, prefix string, perMinute int) *RedisTransferLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "transfer-service"
	}
	return &RedisTransferLimiter{
		client:    client,
		keyPrefix: trimmedPrefix + ":transfer_limit",
		perWindow: perMinute,
		window:    transferLimitWindow,
		now:       time.Now,
	}
}

// AllowTransfer counts one transfer for originAccountID. It returns a *RateLimitError once
// the origin is over its allowance, and any Redis failure unchanged.
func (l *RedisTransferLimiter) AllowTransfer(ctx context.Context, originAccountID int64) error {
	if l == nil || l.client == nil || l.perWindow <= 0 {
		return nil
	}

	now := l.now()
	key, resetAt := l.bucket(originAccountID, now)
	count, err := transferWindowCounter.Run(ctx, l.client, []string{key}, resetAt.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("transfer limiter: %w", err)
	}
	if count <= int64(l.perWindow) {
		return nil
	}
	return &RateLimitError{RetryAfterSeconds: retryAfterSeconds(now, resetAt)}
}

// bucket returns the counter key for the window containing now and when that window closes.
func (l *RedisTransferLimiter) bucket(originAccountID int64, now time.Time) (string, time.Time) {
	start := now.UTC().Truncate(l.window)
	return fmt.Sprintf("%s:%d:%d", l.keyPrefix, originAccountID, start.Unix()), start.Add(l.window)
}

func retryAfterSeconds(now, resetAt time.Time) int {
	seconds := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
