package storage

import (
	"fmt"
	"slices"

	"github.com/docker/go-units"
)

const (
	ProviderLocal  = "local"
	ProviderS3     = "s3"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

var providers = []string{ProviderLocal, ProviderS3, ProviderGCS, ProviderMemory}

const (
	DefaultProvider    = ProviderLocal
	DefaultMaxFileSize = "100MB"
)

// Config is the provider-neutral part of a store's configuration. The
// provider section (bucket, directory, credentials) is passed to Open
// separately.
type Config struct {
	// Name labels the store in logs and health output.
	Name     string `yaml:"name" mapstructure:"name"`
	Provider string `yaml:"provider" mapstructure:"provider"`
	// AutoCreate provisions the bucket when the component starts.
	AutoCreate bool `yaml:"auto_create" mapstructure:"auto_create"`
	// MaxFileSize caps a single object, e.g. "25MB". "0" disables the cap.
	MaxFileSize string `yaml:"max_file_size" mapstructure:"max_file_size"`
}

func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.MaxFileSize == "" {
		c.MaxFileSize = DefaultMaxFileSize
	}
}

func (c *Config) Validate() error {
	if !slices.Contains(providers, c.Provider) {
		return fmt.Errorf("storage: provider must be one of %v (got: %s)", providers, c.Provider)
	}
	if _, err := units.RAMInBytes(c.MaxFileSize); err != nil {
		return fmt.Errorf("storage: max_file_size: %w", err)
	}
	return nil
}

// MaxBytes is MaxFileSize in bytes, 0 when unlimited or invalid.
func (c *Config) MaxBytes() int64 {
	n, err := units.RAMInBytes(c.MaxFileSize)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
