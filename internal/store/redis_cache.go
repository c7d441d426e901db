package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transfa/transfer-service/internal/domain"
)

// CachedTransferReader serves committed transfers from Redis first and falls back to the
// wrapped reader on a miss. Transfers never change after commit, so entries are never
// invalidated; the TTL only bounds memory use.
type CachedTransferReader struct {
	next   TransferReader
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedTransferReader(next TransferReader, client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *CachedTransferReader {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "transfer-service"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedTransferReader{
		next:   next,
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
		logger: logger.With("component", "transfer_cache"),
	}
}

func (c *CachedTransferReader) key(transferID int64) string {
	return fmt.Sprintf("%s:transfer:%d", c.prefix, transferID)
}

// FindTransferByID checks Redis, then the wrapped reader, warming the cache on a hit there.
// Redis failures degrade to a direct read.
func (c *CachedTransferReader) FindTransferByID(ctx context.Context, transferID int64) (*domain.Transfer, error) {
	key := c.key(transferID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var transfer domain.Transfer
		if jsonErr := json.Unmarshal(data, &transfer); jsonErr == nil {
			return &transfer, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}

	transfer, err := c.next.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(transfer)
	if err != nil {
		c.logger.Warn("cache marshal failed", "transfer_id", transferID, "error", err)
		return transfer, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return transfer, nil
}

// ListTransfersByAccount is not cached; history pages change as new transfers land.
func (c *CachedTransferReader) ListTransfersByAccount(ctx context.Context, accountID int64, opts domain.TransferListOptions) ([]domain.Transfer, error) {
	return c.next.ListTransfersByAccount(ctx, accountID, opts)
}
