// Package memory is an in-process storage backend. It serves single-process
// runs and doubles as a test fixture.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"mime"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/imgflow/storage"
)

func init() {
	storage.Register(storage.ProviderMemory, func(_ context.Context, cfg storage.Config, _ any) (storage.Storage, error) {
		return New(cfg.Name), nil
	})
}

type blob struct {
	data     []byte
	modified time.Time
}

// Storage keeps objects in a map. It is safe for concurrent use.
type Storage struct {
	name string

	mu    sync.RWMutex
	blobs map[string]blob
}

var _ storage.Storage = (*Storage)(nil)

// New creates an empty store whose URLs read mem://name/key.
func New(name string) *Storage {
	if name == "" {
		name = "memory"
	}
	return &Storage{name: name, blobs: map[string]blob{}}
}

func (s *Storage) Upload(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("memory: read %s: %w", key, err)
	}
	s.mu.Lock()
	s.blobs[key] = blob{data: data, modified: time.Now()}
	s.mu.Unlock()
	return nil
}

func (s *Storage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.blobs[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Storage) URL(_ context.Context, key string) (string, error) {
	return "mem://" + s.name + "/" + key, nil
}

func (s *Storage) List(_ context.Context, prefix string) ([]storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []storage.Object{}
	for _, key := range slices.Sorted(maps.Keys(s.blobs)) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		b := s.blobs[key]
		out = append(out, storage.Object{
			Key:         key,
			Size:        int64(len(b.data)),
			Modified:    b.modified,
			ContentType: mime.TypeByExtension(path.Ext(key)),
		})
	}
	return out, nil
}

// Location is the store name.
func (s *Storage) Location() string { return s.name }

func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Keys returns every key, sorted.
func (s *Storage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.blobs))
}
