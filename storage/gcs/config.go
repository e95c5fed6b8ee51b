package gcs

import (
	"errors"
	"fmt"
)

// Default configuration values.
const (
	DefaultLocation     = "US"
	DefaultStorageClass = "STANDARD"
)

// Config holds Google Cloud Storage configuration.
type Config struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	// ProjectID owns buckets created by EnsureBucket.
	ProjectID string `yaml:"project_id" mapstructure:"project_id"`
	// Location and StorageClass apply to buckets created by EnsureBucket.
	Location     string `yaml:"location" mapstructure:"location"`
	StorageClass string `yaml:"storage_class" mapstructure:"storage_class"`
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	// Endpoint overrides the API endpoint, e.g. fake-gcs-server.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// PublicBaseURL prefixes public object URLs.
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Location == "" {
		c.Location = DefaultLocation
	}
	if c.StorageClass == "" {
		c.StorageClass = DefaultStorageClass
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "https://storage.googleapis.com"
	}
}

// Validate checks that the GCS configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("gcs: bucket is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("gcs: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
