// Package memory is an in-process LinkCache backed by ristretto, for
// single-instance deployments that want the vendor-path lookup cache without
// running Redis.
package memory

import (
	"context"
	"time"

	"github.com/chirino/vault-service/internal/model"
	registrycache "github.com/chirino/vault-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "memory",
		Loader: func(_ context.Context) (registrycache.LinkCache, error) {
			return New()
		},
	})
}

// New returns an in-process link cache.
func New() (registrycache.LinkCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, model.ShareLink]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &memoryLinkCache{cache: cache}, nil
}

type memoryLinkCache struct {
	cache *ristretto.Cache[string, model.ShareLink]
}

func (c *memoryLinkCache) Available() bool { return true }

func (c *memoryLinkCache) Get(_ context.Context, tokenHash string) (*model.ShareLink, error) {
	link, ok := c.cache.Get(tokenHash)
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (c *memoryLinkCache) Set(_ context.Context, tokenHash string, link model.ShareLink, ttl time.Duration) error {
	c.cache.SetWithTTL(tokenHash, link, 1, ttl)
	c.cache.Wait()
	return nil
}

func (c *memoryLinkCache) Remove(_ context.Context, tokenHash string) error {
	c.cache.Del(tokenHash)
	return nil
}

var _ registrycache.LinkCache = (*memoryLinkCache)(nil)
