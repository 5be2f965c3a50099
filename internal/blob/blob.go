// Package blob declares the capability interface every blob backend
// implements. Concrete backends live in s3storage and fsstorage.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open when the locator no longer resolves.
var ErrNotFound = errors.New("blob not found")

// KeyPrefix is the namespace uploads are written under. Reconciliation only
// ever touches objects below it.
const KeyPrefix = "uploads/"

// Object describes a stored blob.
type Object struct {
	// Locator is what the metadata record stores to read the blob back.
	Locator string
	// DeletionKey is the handle Delete expects.
	DeletionKey string
}

// Store is the minimal surface the share service needs.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	// Delete removes every key in one call. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// NativeExpiry reports whether the backend reclaims uploads on its own,
	// in which case no cleanup schedule entries are needed.
	NativeExpiry() bool
}

// Info is returned by List.
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Lister is implemented by stores that can enumerate their uploads.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Info, error)
}

// Sized is implemented by readers returned from Open that know the stored
// length of the blob.
type Sized interface {
	Size() int64
}

// Presigner is implemented by stores that can hand out direct upload URLs.
type Presigner interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NewKey builds a unique object key for an upload. Only the base name of the
// client supplied file name is kept.
func NewKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		base = "upload"
	}
	return KeyPrefix + uuid.NewString() + "/" + base
}

// ValidKey reports whether key has the shape NewKey produces:
// uploads/<uuid>/<base>, already clean, with no parent references.
func ValidKey(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) || path.Clean(key) != key || strings.Contains(key, "\\") {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(key, KeyPrefix), "/")
	if len(parts) != 2 {
		return false
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return false
	}
	base := parts[1]
	return base != "" && base != "." && base != ".."
}
