package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Warden/internal/domain/auth"
	"github.com/NordCoder/Warden/internal/obs"
)

// BlacklistCache fronts a durable blacklist with Redis keys that expire with
// the token. The inner repository stays the source of truth; any Redis
// failure degrades to it.
type BlacklistCache struct {
	client redis.UniversalClient
	inner  domainauth.BlacklistRepo
	prefix string
	hitTTL time.Duration
	now    func() time.Time
	log    *zap.Logger
}

var _ domainauth.BlacklistRepo = (*BlacklistCache)(nil)

func NewBlacklistCache(client redis.UniversalClient, inner domainauth.BlacklistRepo, cfg Config, log *zap.Logger) *BlacklistCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "warden:"
	}
	hit := cfg.HitTTL
	if hit <= 0 {
		hit = time.Minute
	}
	return &BlacklistCache{
		client: client,
		inner:  inner,
		prefix: prefix + "blacklist:",
		hitTTL: hit,
		now:    func() time.Time { return time.Now().UTC() },
		log:    obs.Component(log, "blacklist_cache"),
	}
}

func (c *BlacklistCache) key(jti string) string { return c.prefix + jti }

func (c *BlacklistCache) Add(ctx context.Context, e *domainauth.BlacklistEntry) error {
	if err := c.inner.Add(ctx, e); err != nil {
		return err
	}
	ttl := e.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(e.TokenJTI), e.Reason, ttl).Err(); err != nil {
		obs.WithTrace(ctx, c.log).Warn("cache blacklist entry", zap.String("jti", e.TokenJTI), zap.Error(err))
	}
	return nil
}

func (c *BlacklistCache) Exists(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(jti)).Result()
	switch {
	case err != nil:
		obs.WithTrace(ctx, c.log).Debug("blacklist cache unavailable", zap.Error(err))
	case n > 0:
		return true, nil
	}

	ok, err := c.inner.Exists(ctx, jti)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.client.Set(ctx, c.key(jti), "1", c.hitTTL).Err(); err != nil {
		obs.WithTrace(ctx, c.log).Debug("populate blacklist cache", zap.Error(err))
	}
	return true, nil
}

// DeleteExpired only touches the inner repository; Redis expires keys itself.
func (c *BlacklistCache) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return c.inner.DeleteExpired(ctx, now)
}
