package storage

import (
	"context"
)

// Blobstore is the durable blob-storage abstraction the WAL and the
// checkpoint manager are built on. Implementations must make Put atomic: a
// reader either sees the whole blob or no blob at all.
type Blobstore interface {
	// Get retrieves a blob and its version.
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Put stores a blob atomically and returns its new version.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Exists reports whether a blob exists.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys with the given prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
}

// NotFound is an error type used only when a key is not found in a
// Blobstore.
type NotFound struct {
	Key string
}

// Error returns the key which was not found.
func (nf NotFound) Error() string {
	return "blob not found: " + nf.Key
}

// IsNotFoundError is a helper used to determine if an error resulted because
// the key didn't exist as opposed to something going wrong.
func IsNotFoundError(err error) bool {
	_, ok := err.(NotFound)
	return ok
}
