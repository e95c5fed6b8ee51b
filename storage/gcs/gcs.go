// Package gcs implements storage.Storage on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kbukum/imgflow/storage"
)

func init() {
	storage.Register(storage.ProviderGCS, func(ctx context.Context, _ storage.Config, section any) (storage.Storage, error) {
		c, err := storage.Section[Config](section)
		if err != nil {
			return nil, err
		}
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return NewStorage(ctx, c)
	})
}

// Storage implements storage.Storage using Google Cloud Storage.
type Storage struct {
	client *gcstorage.Client
	cfg    Config
}

// NewStorage creates a GCS client for cfg.Bucket.
func NewStorage(ctx context.Context, cfg *Config) (*Storage, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	return &Storage{client: client, cfg: *cfg}, nil
}

func (s *Storage) bucket() *gcstorage.BucketHandle {
	return s.client.Bucket(s.cfg.Bucket)
}

func (s *Storage) Location() string { return "gs://" + s.cfg.Bucket }

// Ping reads the bucket attributes.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.bucket().Attrs(ctx); err != nil {
		return fmt.Errorf("gcs: bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.bucket().Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcstorage.ErrBucketNotExist) {
		return fmt.Errorf("storage: gcs bucket attrs: %w", err)
	}
	if s.cfg.ProjectID == "" {
		return fmt.Errorf("storage: gcs bucket %q missing and no project_id to create it", s.cfg.Bucket)
	}
	err = s.bucket().Create(ctx, s.cfg.ProjectID, &gcstorage.BucketAttrs{
		Location:     s.cfg.Location,
		StorageClass: s.cfg.StorageClass,
	})
	if err != nil {
		return fmt.Errorf("storage: gcs create bucket: %w", err)
	}
	return nil
}

// Upload writes data from reader to the object at p.
func (s *Storage) Upload(ctx context.Context, p string, reader io.Reader) error {
	w := s.bucket().Object(p).NewWriter(ctx)
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: gcs upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: gcs upload: %w", err)
	}
	return nil
}

// Download returns a reader for the object at p.
func (s *Storage) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := s.bucket().Object(p).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, p)
		}
		return nil, fmt.Errorf("storage: gcs download: %w", err)
	}
	return r, nil
}

// Delete removes the object at p. Returns nil if it does not exist.
func (s *Storage) Delete(ctx context.Context, p string) error {
	err := s.bucket().Object(p).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("storage: gcs delete: %w", err)
	}
	return nil
}

// Exists checks whether an object exists at p.
func (s *Storage) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.bucket().Object(p).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: gcs attrs: %w", err)
	}
	return true, nil
}

// URL returns the public URL of the object at p.
func (s *Storage) URL(_ context.Context, p string) (string, error) {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), s.cfg.Bucket, p), nil
}

// SignedURL returns a V4 signed GET URL valid for expiry.
func (s *Storage) SignedURL(_ context.Context, p string, expiry time.Duration) (string, error) {
	u, err := s.bucket().SignedURL(p, &gcstorage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiry),
		Scheme:  gcstorage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("storage: gcs signed url: %w", err)
	}
	return u, nil
}

// List returns metadata for all objects whose name starts with prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	it := s.bucket().Objects(ctx, &gcstorage.Query{Prefix: prefix})
	files := []storage.Object{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: gcs list: %w", err)
		}
		files = append(files, storage.Object{
			Key:         attrs.Name,
			Size:        attrs.Size,
			Modified:    attrs.Updated,
			ContentType: attrs.ContentType,
		})
	}
	return files, nil
}

// Close releases the GCS client.
func (s *Storage) Close() error {
	return s.client.Close()
}

var (
	_ storage.Storage           = (*Storage)(nil)
	_ storage.Provisioner       = (*Storage)(nil)
	_ storage.SignedURLProvider = (*Storage)(nil)
	_ storage.Pinger            = (*Storage)(nil)
)
