package blob

import (
	"context"
	"fmt"
	"time"
)

// SignedURL is a short-lived GET URL for a stored blob.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// BlobStore persists opaque ciphertext blobs by path. Content is always
// application/octet-stream; the store never sees plaintext.
type BlobStore interface {
	// Put writes a blob at path. Fails if the path already holds one.
	Put(ctx context.Context, path string, data []byte) error
	// PutUpsert writes a blob at path, replacing any existing content.
	PutUpsert(ctx context.Context, path string, data []byte) error
	// Get reads the blob at path.
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete removes the blob at path.
	Delete(ctx context.Context, path string) error
	// SignedGet returns a time-limited signed download URL for path.
	SignedGet(ctx context.Context, path string, ttl time.Duration) (*SignedURL, error)
}

// Loader creates a BlobStore from config carried in ctx.
type Loader func(ctx context.Context) (BlobStore, error)

// Plugin represents a blob store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a blob store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered blob store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named blob store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown blob store %q; valid: %v", name, Names())
}
