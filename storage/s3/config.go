package s3

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultRegion is also the region that rejects an explicit location
// constraint on CreateBucket.
const DefaultRegion = "us-east-1"

// Config is the s3 provider section.
type Config struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Region string `yaml:"region" mapstructure:"region"`
	// Endpoint points at an S3-compatible service such as MinIO. Setting it
	// implies path-style addressing.
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
	// AccessKey and SecretKey override the default credential chain when
	// both are set.
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	// PublicURL replaces the endpoint-derived base of public object URLs,
	// e.g. a CDN in front of the bucket.
	PublicURL string `yaml:"public_url" mapstructure:"public_url"`
}

func (c *Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Endpoint != "" {
		c.PathStyle = true
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		errs = append(errs, errors.New("access_key and secret_key go together"))
	}
	if c.Endpoint != "" && !strings.Contains(c.Endpoint, "://") {
		errs = append(errs, fmt.Errorf("endpoint %q needs a scheme", c.Endpoint))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("s3: %w", err)
	}
	return nil
}

// baseURL is the prefix of public object URLs, without a trailing slash.
func (c *Config) baseURL() string {
	switch {
	case c.PublicURL != "":
		return strings.TrimRight(c.PublicURL, "/")
	case c.Endpoint != "":
		return strings.TrimRight(c.Endpoint, "/") + "/" + c.Bucket
	case c.PathStyle:
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s", c.Region, c.Bucket)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
}
