package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryBlobstore provides an in-memory implementation of the Blobstore
// interface, used in tests and for circuits that do not need durability.
type InMemoryBlobstore struct {
	mutex    sync.RWMutex
	blobs    map[string][]byte
	versions map[string]string
}

var _ Blobstore = &InMemoryBlobstore{}

// NewInMemoryBlobstore creates an instance of an InMemoryBlobstore.
func NewInMemoryBlobstore() *InMemoryBlobstore {
	return &InMemoryBlobstore{
		blobs:    make(map[string][]byte),
		versions: make(map[string]string),
	}
}

// Get retrieves a blob and its version.
func (bs *InMemoryBlobstore) Get(_ context.Context, key string) ([]byte, string, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	val, ok := bs.blobs[key]
	if !ok {
		return nil, "", NotFound{Key: key}
	}

	data := make([]byte, len(val))
	copy(data, val)
	return data, bs.versions[key], nil
}

// Put stores a blob and returns its new version.
func (bs *InMemoryBlobstore) Put(_ context.Context, key string, data []byte) (string, error) {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)

	ver := uuid.New().String()
	bs.blobs[key] = stored
	bs.versions[key] = ver
	return ver, nil
}

// Exists reports whether a blob exists.
func (bs *InMemoryBlobstore) Exists(_ context.Context, key string) (bool, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	_, ok := bs.blobs[key]
	return ok, nil
}

// List returns the keys with the given prefix in lexicographic order.
func (bs *InMemoryBlobstore) List(_ context.Context, prefix string) ([]string, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	keys := make([]string, 0)
	for key := range bs.blobs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes a blob.
func (bs *InMemoryBlobstore) Delete(_ context.Context, key string) error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	delete(bs.blobs, key)
	delete(bs.versions, key)
	return nil
}
