// Package rediscache provides Redis-backed decorators for the account store:
// an alias-resolution cache and the transfer idempotency record store.
package rediscache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/upistack/upiflow/internal/domain"
	"github.com/upistack/upiflow/internal/engine"
	"github.com/upistack/upiflow/internal/infrastructure/metrics"
)

const aliasPrefix = "alias:"

// AliasCache wraps an AccountStore and caches alias resolutions in Redis.
// Alias bindings change rarely, so cached mappings are served until the TTL
// expires. All other operations pass through unchanged.
type AliasCache struct {
	next    engine.AccountStore
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewAliasCache creates an AliasCache. m may be nil to disable metrics.
func NewAliasCache(next engine.AccountStore, client *redis.Client, ttl time.Duration, m *metrics.Metrics) *AliasCache {
	return &AliasCache{
		next:    next,
		client:  client,
		ttl:     ttl,
		metrics: m,
	}
}

// ResolveAlias serves the mapping from cache when possible. Misses and cache
// faults fall through to the underlying store; only successful resolutions
// are cached.
func (c *AliasCache) ResolveAlias(ctx context.Context, alias string) (string, error) {
	key := aliasPrefix + normalize(alias)

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil && cached != "" {
		if c.metrics != nil {
			c.metrics.AliasCacheHits.Inc()
		}
		return cached, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		// Cache unavailability must not fail the lookup.
		return c.next.ResolveAlias(ctx, alias)
	}

	if c.metrics != nil {
		c.metrics.AliasCacheMisses.Inc()
	}

	id, err := c.next.ResolveAlias(ctx, alias)
	if err != nil {
		return "", err
	}

	_ = c.client.Set(ctx, key, id, c.ttl).Err()

	return id, nil
}

// Invalidate drops the cached mapping for alias.
func (c *AliasCache) Invalidate(ctx context.Context, alias string) error {
	return c.client.Del(ctx, aliasPrefix+normalize(alias)).Err()
}

// LoadByID passes through to the underlying store.
func (c *AliasCache) LoadByID(ctx context.Context, id string) (*domain.Account, error) {
	return c.next.LoadByID(ctx, id)
}

// Save passes through to the underlying store.
func (c *AliasCache) Save(ctx context.Context, account *domain.Account) error {
	return c.next.Save(ctx, account)
}

// Exists passes through to the underlying store.
func (c *AliasCache) Exists(ctx context.Context, id string) (bool, error) {
	return c.next.Exists(ctx, id)
}

func normalize(alias string) string {
	return strings.ToLower(alias)
}
