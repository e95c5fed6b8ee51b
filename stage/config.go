package stage

import "fmt"

// Override replaces parts of a built-in stage. Zero-valued fields keep the
// default.
type Override struct {
	Topic  string `yaml:"topic" mapstructure:"topic"`
	Suffix string `yaml:"suffix" mapstructure:"suffix"`
	Params Params `yaml:"params" mapstructure:"params"`
}

// Config is the stage table configuration.
type Config struct {
	TopicPrefix string              `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	Stages      map[string]Override `yaml:"stages" mapstructure:"stages"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
}

// Validate checks that every override names a built-in kind.
func (c *Config) Validate() error {
	for kind := range c.Stages {
		if order(kind) == len(builtins) {
			return fmt.Errorf("pipeline.stages: unknown stage kind %q", kind)
		}
	}
	return nil
}

// FromConfig builds the registry from the built-in table with overrides
// applied.
func FromConfig(cfg Config) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stages := Defaults(cfg.TopicPrefix)
	for kind, o := range cfg.Stages {
		s := stages[kind]
		if o.Topic != "" {
			s.Topic = o.Topic
		}
		if o.Suffix != "" {
			s.Suffix = o.Suffix
		}
		if o.Params.Sigma != 0 {
			s.Params.Sigma = o.Params.Sigma
		}
		if o.Params.Factor != 0 {
			s.Params.Factor = o.Params.Factor
		}
		if o.Params.Kelvin != 0 {
			s.Params.Kelvin = o.Params.Kelvin
		}
		if o.Params.Direction != "" {
			s.Params.Direction = o.Params.Direction
		}
		stages[kind] = s
	}
	return NewRegistry(stages)
}
