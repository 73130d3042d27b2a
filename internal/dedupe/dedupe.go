// Package dedupe guards against webhook redelivery by remembering message ids.
package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"statusline/internal/metrics"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// AcquireOnce reports whether this is the first delivery of messageID.
// A nil Deduper, an empty id, or an unreachable Redis all allow processing.
func (d *Deduper) AcquireOnce(ctx context.Context, messageID string) bool {
	if d == nil || d.rdb == nil || messageID == "" {
		return true
	}
	ok, err := d.rdb.SetNX(ctx, "dedup:inbound:"+messageID, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("dedupe unavailable, processing anyway", zap.String("message_sid", messageID), zap.Error(err))
		return true
	}
	if !ok {
		metrics.DuplicateDeliveries.Inc()
	}
	return ok
}

func (d *Deduper) Close() error {
	if d == nil || d.rdb == nil {
		return nil
	}
	return d.rdb.Close()
}
