package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is wrapped by Download when no object exists at the key.
var ErrNotFound = errors.New("storage: object not found")

// Object describes a stored object.
type Object struct {
	Key         string
	Size        int64
	Modified    time.Time
	ContentType string
}

// Storage is a flat key space of blobs. Keys use "/" as separator whatever
// the backend.
type Storage interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	// Download wraps ErrNotFound for a missing key. The caller closes the
	// reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL is the public location of key. It does not check existence.
	URL(ctx context.Context, key string) (string, error)
	// List returns the objects under prefix sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// SignedURLProvider is implemented by backends that can hand out
// time-limited links to private objects.
type SignedURLProvider interface {
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Provisioner is implemented by backends that can create their bucket.
type Provisioner interface {
	EnsureBucket(ctx context.Context) error
}

// Pinger is implemented by backends with a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Locator names where a backend keeps its objects: a bucket or a directory.
type Locator interface {
	Location() string
}
