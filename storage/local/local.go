// Package local is a filesystem storage backend for development and
// single-host runs. All access goes through an os.Root, so no key can reach
// outside the configured directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kbukum/imgflow/storage"
)

func init() {
	storage.Register(storage.ProviderLocal, func(_ context.Context, cfg storage.Config, section any) (storage.Storage, error) {
		c, err := storage.Section[Config](section)
		if err != nil {
			return nil, err
		}
		if c.Dir == "" {
			c.Dir = filepath.Join(DefaultRoot, cfg.Name)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return Open(c.Dir)
	})
}

// Storage stores each object as a file named by its key.
type Storage struct {
	dir  string
	root *os.Root
}

var _ storage.Storage = (*Storage)(nil)

// Open creates dir if needed and roots the store there.
func Open(dir string) (*Storage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	return &Storage{dir: abs, root: root}, nil
}

// name maps a key to a path relative to the root.
func name(key string) (string, error) {
	p := filepath.FromSlash(key)
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("local: invalid key %q", key)
	}
	return p, nil
}

// Upload writes to a temporary sibling and renames it into place, so readers
// never see a partial object.
func (s *Storage) Upload(_ context.Context, key string, r io.Reader) error {
	n, err := name(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(n); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("local: %w", err)
		}
	}

	tmp := filepath.Join(filepath.Dir(n), ".upload-"+uuid.NewString())
	f, err := s.root.Create(tmp)
	if err != nil {
		return fmt.Errorf("local: %w", err)
	}
	_, err = io.Copy(f, r)
	err = errors.Join(err, f.Close())
	if err == nil {
		err = s.root.Rename(tmp, n)
	}
	if err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("local: write %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	n, err := name(key)
	if err != nil {
		return nil, err
	}
	f, err := s.root.Open(n)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	return f, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	n, err := name(key)
	if err != nil {
		return err
	}
	if err := s.root.Remove(n); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local: %w", err)
	}
	return nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	n, err := name(key)
	if err != nil {
		return false, err
	}
	fi, err := s.root.Stat(n)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("local: %w", err)
	}
	return fi.Mode().IsRegular(), nil
}

// URL is a file:// URL of the object's absolute path.
func (s *Storage) URL(_ context.Context, key string) (string, error) {
	n, err := name(key)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.dir, n))}
	return u.String(), nil
}

// List walks the deepest directory fully covered by prefix. In-flight
// uploads are skipped.
func (s *Storage) List(_ context.Context, prefix string) ([]storage.Object, error) {
	start := "."
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		start = prefix[:i]
	}
	if !fs.ValidPath(start) {
		return []storage.Object{}, nil
	}

	out := []storage.Object{}
	err := fs.WalkDir(s.root.FS(), start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasPrefix(p, prefix) || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, storage.Object{
			Key:         p,
			Size:        fi.Size(),
			Modified:    fi.ModTime(),
			ContentType: mime.TypeByExtension(path.Ext(p)),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []storage.Object{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local: list %s: %w", prefix, err)
	}
	return out, nil
}

// EnsureBucket recreates the directory if it was removed after Open.
func (s *Storage) EnsureBucket(context.Context) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("local: %w", err)
	}
	return nil
}

// Ping checks the directory is still there.
func (s *Storage) Ping(context.Context) error {
	_, err := s.root.Stat(".")
	return err
}

func (s *Storage) Location() string { return s.dir }

func (s *Storage) Close() error { return s.root.Close() }
