// Package s3 is the Amazon S3 storage backend. It also serves S3-compatible
// services such as MinIO through Config.Endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kbukum/imgflow/storage"
)

func init() {
	storage.Register(storage.ProviderS3, func(ctx context.Context, _ storage.Config, section any) (storage.Storage, error) {
		c, err := storage.Section[Config](section)
		if err != nil {
			return nil, err
		}
		return New(ctx, *c)
	})
}

// Storage keeps each object under its key in one bucket.
type Storage struct {
	cfg     Config
	client  *awss3.Client
	presign *awss3.PresignClient
}

var (
	_ storage.Storage           = (*Storage)(nil)
	_ storage.SignedURLProvider = (*Storage)(nil)
	_ storage.Provisioner       = (*Storage)(nil)
)

// New loads the AWS configuration chain, overridden by cfg, and builds the
// client. It does not contact S3.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("s3: aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &Storage{cfg: cfg, client: client, presign: awss3.NewPresignClient(client)}, nil
}

// notFound matches the typed errors and any bare 404, which is all a HEAD
// response can carry.
func notFound(err error) bool {
	var (
		noKey *types.NoSuchKey
		nf    *types.NotFound
		resp  *awshttp.ResponseError
	)
	return errors.As(err, &noKey) || errors.As(err, &nf) ||
		(errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound)
}

func (s *Storage) Upload(ctx context.Context, key string, r io.Reader) error {
	in := &awss3.PutObjectInput{Bucket: &s.cfg.Bucket, Key: aws.String(key), Body: r}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: &s.cfg.Bucket, Key: aws.String(key)})
	if notFound(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete succeeds for missing keys, as S3 itself does.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &s.cfg.Bucket, Key: aws.String(key)}); err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: &s.cfg.Bucket, Key: aws.String(key)})
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("s3: head %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) URL(_ context.Context, key string) (string, error) {
	return s.cfg.baseURL() + "/" + key, nil
}

// List pages through ListObjectsV2; keys arrive in lexicographic order.
func (s *Storage) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	pages := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: &s.cfg.Bucket,
		Prefix: aws.String(prefix),
	})
	out := []storage.Object{}
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			out = append(out, storage.Object{
				Key:         key,
				Size:        aws.ToInt64(obj.Size),
				Modified:    aws.ToTime(obj.LastModified),
				ContentType: mime.TypeByExtension(path.Ext(key)),
			})
		}
	}
	return out, nil
}

// SignedURL presigns a GET valid for expiry.
func (s *Storage) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx,
		&awss3.GetObjectInput{Bucket: &s.cfg.Bucket, Key: aws.String(key)},
		awss3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("s3: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// EnsureBucket creates the bucket unless HeadBucket finds it.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	err := s.Ping(ctx)
	if err == nil {
		return nil
	}
	if !notFound(err) {
		return err
	}

	in := &awss3.CreateBucketInput{Bucket: &s.cfg.Bucket}
	if s.cfg.Region != DefaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		}
	}
	_, err = s.client.CreateBucket(ctx, in)
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("s3: create bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Ping is a HeadBucket.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: &s.cfg.Bucket}); err != nil {
		return fmt.Errorf("s3: head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *Storage) Location() string { return "s3://" + s.cfg.Bucket }
