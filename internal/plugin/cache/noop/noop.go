package noop

import (
	"context"
	"time"

	"github.com/chirino/vault-service/internal/model"
	"github.com/chirino/vault-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.LinkCache, error) {
			return &noopLinkCache{}, nil
		},
	})
}

type noopLinkCache struct{}

func (n *noopLinkCache) Available() bool { return false }
func (n *noopLinkCache) Get(_ context.Context, _ string) (*model.ShareLink, error) {
	return nil, nil
}
func (n *noopLinkCache) Set(_ context.Context, _ string, _ model.ShareLink, _ time.Duration) error {
	return nil
}
func (n *noopLinkCache) Remove(_ context.Context, _ string) error { return nil }

var _ cache.LinkCache = (*noopLinkCache)(nil)
