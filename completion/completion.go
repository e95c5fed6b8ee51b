package completion

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/observability"
	"github.com/kbukum/imgflow/storage"
)

// DefaultSignedURLExpiry is how long a signed location stays valid.
const DefaultSignedURLExpiry = "15m"

// Config configures the Reader.
type Config struct {
	// SignedURLs returns time-limited signed locations when the output store
	// supports them.
	SignedURLs bool   `yaml:"signed_urls" mapstructure:"signed_urls"`
	Expiry     string `yaml:"expiry" mapstructure:"expiry"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Expiry == "" {
		c.Expiry = DefaultSignedURLExpiry
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.Expiry)
	if err != nil {
		return fmt.Errorf("completion.expiry: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("completion.expiry must be positive")
	}
	return nil
}

// Location is one terminal artifact of a run.
type Location struct {
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Size         int64      `json:"size"`
	LastModified time.Time  `json:"last_modified"`
	Signed       bool       `json:"signed"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Reader lists the artifacts under a run's output folder.
type Reader struct {
	store  storage.Storage
	signer storage.SignedURLProvider
	expiry time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewReader creates a Reader over the output store. When signed URLs are
// requested but the store cannot sign, public URLs are returned.
func NewReader(store storage.Storage, cfg Config, log *logger.Logger) (*Reader, error) {
	if store == nil {
		return nil, fmt.Errorf("completion: output store is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	r := &Reader{
		store: store,
		log:   log.WithComponent("completion"),
		now:   time.Now,
	}
	r.expiry, _ = time.ParseDuration(cfg.Expiry)
	if cfg.SignedURLs {
		if signer, ok := store.(storage.SignedURLProvider); ok {
			r.signer = signer
		} else {
			r.log.Warn("Output store cannot sign URLs; serving public locations")
		}
	}
	return r, nil
}

// Signed reports whether the Reader returns signed locations.
func (r *Reader) Signed() bool { return r.signer != nil }

// ListOutputs returns whatever exists under folder right now, ordered by key.
// An empty result means the run has not reached its terminal hop, or
// stalled before it.
func (r *Reader) ListOutputs(ctx context.Context, folder string) ([]Location, error) {
	folder = strings.Trim(folder, "/")
	if folder == "" || strings.Contains(folder, "..") {
		return nil, apperrors.InvalidInput("output_folder", "must be a non-empty folder name")
	}
	prefix := folder + "/"

	ctx, span := observability.StartSpan(ctx, observability.SpanListOutputs, attribute.String("output_folder", folder))
	defer span.End()

	files, err := r.store.List(ctx, prefix)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.StoreUnavailable("list", prefix, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })

	out := make([]Location, 0, len(files))
	for _, f := range files {
		loc := Location{
			Key:          f.Key,
			Name:         path.Base(f.Key),
			Size:         f.Size,
			LastModified: f.Modified,
		}
		if r.signer != nil {
			u, err := r.signer.SignedURL(ctx, f.Key, r.expiry)
			if err != nil {
				span.RecordError(err)
				return nil, apperrors.StoreUnavailable("sign", f.Key, err)
			}
			exp := r.now().Add(r.expiry).UTC()
			loc.URL, loc.Signed, loc.ExpiresAt = u, true, &exp
		} else {
			u, err := r.store.URL(ctx, f.Key)
			if err != nil {
				span.RecordError(err)
				return nil, apperrors.StoreUnavailable("url", f.Key, err)
			}
			loc.URL = u
		}
		out = append(out, loc)
	}

	span.SetAttributes(attribute.Int("outputs", len(out)))
	r.log.Debug("Listed outputs", map[string]interface{}{
		logger.FieldOutputFolder: folder,
		"count":                  len(out),
	})
	return out, nil
}
