package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is wrapped when an object exceeds a ByteClient's limit.
var ErrTooLarge = errors.New("storage: object exceeds size limit")

// ByteClient moves whole objects as byte slices. Images are decoded in
// memory anyway, so the workers and the ingress never stream.
type ByteClient interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(ctx context.Context, key string) (string, error)
	List(ctx context.Context, prefix string) ([]Object, error)
}

type ByteOption func(*byteClient)

// WithMaxSize rejects objects larger than n bytes in both directions. n <= 0
// means no limit.
func WithMaxSize(n int64) ByteOption {
	return func(b *byteClient) { b.limit = n }
}

// byteClient embeds the Storage for the methods whose signatures agree.
type byteClient struct {
	Storage
	limit int64
}

func NewByteClient(s Storage, opts ...ByteOption) ByteClient {
	b := &byteClient{Storage: s}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *byteClient) Upload(ctx context.Context, key string, data []byte) error {
	if b.limit > 0 && int64(len(data)) > b.limit {
		return fmt.Errorf("%w: %s has %d bytes, limit is %d", ErrTooLarge, key, len(data), b.limit)
	}
	return b.Storage.Upload(ctx, key, bytes.NewReader(data))
}

func (b *byteClient) Download(ctx context.Context, key string) ([]byte, error) {
	rc, err := b.Storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if b.limit > 0 {
		r = io.LimitReader(rc, b.limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	if b.limit > 0 && int64(len(data)) > b.limit {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrTooLarge, key, b.limit)
	}
	return data, nil
}
