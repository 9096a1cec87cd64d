package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryObjectStore is an in-process fake for tests and local runs.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func key(bucket, path string) string { return bucket + "/" + path }

func (m *MemoryObjectStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key(bucket, path)] = cp
	return nil
}

func (m *MemoryObjectStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key(bucket, path)]
	if !ok {
		return nil, &NotFoundError{Bucket: bucket, Path: path}
	}
	return data, nil
}

func (m *MemoryObjectStore) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	_, ok := m.objects[key(bucket, path)]
	m.mu.Unlock()
	if !ok {
		return "", &NotFoundError{Bucket: bucket, Path: path}
	}
	return fmt.Sprintf("https://fake-objectstore.local/%s/%s?expires=%d", bucket, path, time.Now().Add(ttl).Unix()), nil
}
