package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedLocator puts a Redis cache-aside layer in front of another Locator.
// Redis failures are logged and bypassed; they never fail a lookup.
type CachedLocator struct {
	next   Locator
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLocator wraps next. A nil cache makes it a pass-through.
func NewCachedLocator(next Locator, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedLocator {
	return &CachedLocator{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Locate with cache-aside pattern
func (l *CachedLocator) Locate(ctx context.Context, clientAddress string) string {
	if l.cache == nil {
		return l.next.Locate(ctx, clientAddress)
	}
	key := cacheKey(clientAddress)

	// 1. Try cache first
	cached, err := l.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached
	case !errors.Is(err, redis.Nil):
		l.logger.Warn("location cache read failed", zap.String("key", key), zap.Error(err))
	}

	// 2. Ask the wrapped locator
	location := l.next.Locate(ctx, clientAddress)

	// 3. Store in cache; Unknown is not cached so a recovered provider is retried
	if location != Unknown {
		if err := l.cache.Set(ctx, key, location, l.ttl).Err(); err != nil {
			l.logger.Warn("location cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return location
}

func cacheKey(clientAddress string) string {
	return fmt.Sprintf("loc:%s", clientAddress)
}

var _ Locator = (*CachedLocator)(nil)
