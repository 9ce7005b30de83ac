package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LocalBlobstore stores blobs as files under a root directory. Writes go to
// a temporary file first and are renamed into place, so a blob is visible
// only once fully written.
type LocalBlobstore struct {
	root string
}

var _ Blobstore = &LocalBlobstore{}

// NewLocalBlobstore creates a blobstore rooted at dir, creating it if
// needed.
func NewLocalBlobstore(dir string) (*LocalBlobstore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create blobstore root %q", dir)
	}
	return &LocalBlobstore{root: dir}, nil
}

// Root returns the root directory.
func (bs *LocalBlobstore) Root() string { return bs.root }

func (bs *LocalBlobstore) path(key string) string {
	return filepath.Join(bs.root, filepath.FromSlash(key))
}

// Get retrieves a blob and its version.
func (bs *LocalBlobstore) Get(_ context.Context, key string) ([]byte, string, error) {
	data, err := os.ReadFile(bs.path(key))
	if os.IsNotExist(err) {
		return nil, "", NotFound{Key: key}
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to read blob %q", key)
	}

	info, err := os.Stat(bs.path(key))
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to stat blob %q", key)
	}
	return data, info.ModTime().UTC().String(), nil
}

// Put stores a blob atomically via a temp file and rename.
func (bs *LocalBlobstore) Put(_ context.Context, key string, data []byte) (string, error) {
	path := bs.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory for blob %q", key)
	}

	tmp := path + ".tmp-" + uuid.New().String()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write blob %q", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "failed to publish blob %q", key)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat blob %q", key)
	}
	return info.ModTime().UTC().String(), nil
}

// Exists reports whether a blob exists.
func (bs *LocalBlobstore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(bs.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat blob %q", key)
	}
	return true, nil
}

// List returns the keys with the given prefix in lexicographic order.
func (bs *LocalBlobstore) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)

	err := filepath.Walk(bs.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.Contains(info.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(bs.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return keys, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list blobs with prefix %q", prefix)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes a blob.
func (bs *LocalBlobstore) Delete(_ context.Context, key string) error {
	err := os.Remove(bs.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete blob %q", key)
	}
	return nil
}
