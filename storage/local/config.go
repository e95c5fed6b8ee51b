package local

import "errors"

// DefaultRoot is where stores live when no directory is configured. Each
// store gets a subdirectory named after it.
const DefaultRoot = "/tmp/imgflow"

// Config is the local provider section.
type Config struct {
	// Dir is the directory holding the objects.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("local: dir is required")
	}
	return nil
}
