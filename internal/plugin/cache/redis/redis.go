// Package redis caches share-link lookups by token hash in Redis. The vendor
// path resolves the link on every request; the cache keeps that lookup off
// the database. Entries are removed on revocation.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/vault-service/internal/config"
	"github.com/chirino/vault-service/internal/model"
	registrycache "github.com/chirino/vault-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.LinkCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: REDIS_URL is required")
	}
	ttl := cfg.LinkCacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a LinkCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.LinkCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisLinkCache{client: client, ttl: ttl}, nil
}

type redisLinkCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func linkKey(tokenHash string) string {
	return "share-link:" + tokenHash
}

func (c *redisLinkCache) Available() bool { return true }

func (c *redisLinkCache) Get(ctx context.Context, tokenHash string) (*model.ShareLink, error) {
	data, err := c.client.Get(ctx, linkKey(tokenHash)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var link model.ShareLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

func (c *redisLinkCache) Set(ctx context.Context, tokenHash string, link model.ShareLink, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, linkKey(tokenHash), data, ttl).Err()
}

func (c *redisLinkCache) Remove(ctx context.Context, tokenHash string) error {
	return c.client.Del(ctx, linkKey(tokenHash)).Err()
}

var _ registrycache.LinkCache = (*redisLinkCache)(nil)
