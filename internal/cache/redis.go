package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vouchly/coupon-engine/internal/coupon"
)

var _ coupon.SnapshotCache = (*Redis)(nil)

const redisKeyPrefix = "coupon:snapshot:"

// Redis is a shared snapshot cache backed by a Redis server. Snapshots are
// stored as JSON with a server-side TTL. All failures are logged and treated
// as cache misses: the cache is advisory, so a broken Redis degrades reads
// to the database instead of failing requests.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed snapshot cache on the given client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get fetches and decodes the snapshot for the code. Any error is a miss.
func (r *Redis) Get(ctx context.Context, code string) (*coupon.Coupon, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+code).Bytes()
	if err != nil {
		if err != redis.Nil {
			zctx.From(ctx).Warn("Cache get failed", zap.String("code", code), zap.Error(err))
		}
		return nil, false
	}

	var c coupon.Coupon
	if err := json.Unmarshal(raw, &c); err != nil {
		zctx.From(ctx).Warn("Cache entry corrupt", zap.String("code", code), zap.Error(err))
		return nil, false
	}
	return &c, true
}

// Set stores the snapshot under the code with the given TTL.
func (r *Redis) Set(ctx context.Context, code string, c *coupon.Coupon, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		zctx.From(ctx).Warn("Cache encode failed", zap.String("code", code), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+code, raw, ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Cache set failed", zap.String("code", code), zap.Error(err))
	}
}

// Invalidate removes the snapshot for the code.
func (r *Redis) Invalidate(ctx context.Context, code string) {
	if err := r.client.Del(ctx, redisKeyPrefix+code).Err(); err != nil {
		zctx.From(ctx).Warn("Cache invalidate failed", zap.String("code", code), zap.Error(err))
	}
}
