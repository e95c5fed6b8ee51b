package server

import (
	"fmt"
	"time"

	"github.com/kbukum/imgflow/server/middleware"
)

// Config is the HTTP listener configuration. Durations use time.ParseDuration
// syntax.
type Config struct {
	Host            string                `yaml:"host" mapstructure:"host"`
	Port            int                   `yaml:"port" mapstructure:"port"`
	ReadTimeout     string                `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    string                `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     string                `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout string                `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodySize     string                `yaml:"max_body_size" mapstructure:"max_body_size"`
	CORS            middleware.CORSConfig `yaml:"cors" mapstructure:"cors"`
}

func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	for _, d := range []struct {
		field *string
		def   string
	}{
		{&c.ReadTimeout, "15s"},
		{&c.WriteTimeout, "30s"},
		{&c.IdleTimeout, "60s"},
		{&c.ShutdownTimeout, "5s"},
	} {
		if *d.field == "" {
			*d.field = d.def
		}
	}
	if c.MaxBodySize == "" {
		c.MaxBodySize = "12MB"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Type", "Accept", middleware.HeaderRequestID}
	}
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535 (got: %d)", c.Port)
	}
	for name, v := range map[string]string{
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"idle_timeout":     c.IdleTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid server.%s %q: %w", name, v, err)
		}
		if d < 0 {
			return fmt.Errorf("server.%s must be non-negative (got: %s)", name, v)
		}
	}
	return nil
}

// duration parses v, treating an unset or invalid value as zero.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}
