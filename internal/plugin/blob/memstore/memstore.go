// Package memstore is an in-process blob store used in development and
// tests. Signed URLs are opaque pseudo-URLs; they are never dereferenced by
// the service itself.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	registryblob "github.com/chirino/vault-service/internal/registry/blob"
	"github.com/google/uuid"
)

func init() {
	registryblob.Register(registryblob.Plugin{
		Name: "memory",
		Loader: func(_ context.Context) (registryblob.BlobStore, error) {
			return New(), nil
		},
	})
}

// New returns an empty in-memory blob store.
func New() *MemBlobStore {
	return &MemBlobStore{blobs: map[string][]byte{}}
}

type MemBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func (s *MemBlobStore) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[path]; ok {
		return fmt.Errorf("memstore: blob %s already exists", path)
	}
	s.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (s *MemBlobStore) PutUpsert(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (s *MemBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("memstore: blob %s not found", path)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemBlobStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, path)
	return nil
}

func (s *MemBlobStore) SignedGet(_ context.Context, path string, ttl time.Duration) (*registryblob.SignedURL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blobs[path]; !ok {
		return nil, fmt.Errorf("memstore: blob %s not found", path)
	}
	return &registryblob.SignedURL{
		URL:       "memory://" + path + "?sig=" + uuid.NewString(),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}
