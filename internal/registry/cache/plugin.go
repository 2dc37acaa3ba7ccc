package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/vault-service/internal/model"
)

type linkCacheKey struct{}

// WithLinkCacheContext returns a new context carrying the given LinkCache.
func WithLinkCacheContext(ctx context.Context, c LinkCache) context.Context {
	return context.WithValue(ctx, linkCacheKey{}, c)
}

// LinkCacheFromContext retrieves the LinkCache from the context.
// Returns nil if none was set.
func LinkCacheFromContext(ctx context.Context) LinkCache {
	c, _ := ctx.Value(linkCacheKey{}).(LinkCache)
	return c
}

// LinkCache caches share-link lookups by token hash on the vendor hot path.
// Entries are invalidated on revocation; a miss always falls through to the
// datastore.
type LinkCache interface {
	Available() bool
	Get(ctx context.Context, tokenHash string) (*model.ShareLink, error)
	Set(ctx context.Context, tokenHash string, link model.ShareLink, ttl time.Duration) error
	Remove(ctx context.Context, tokenHash string) error
}

// Loader creates a cache from config carried in ctx.
type Loader func(ctx context.Context) (LinkCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
