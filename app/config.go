package app

import (
	"fmt"
	"path/filepath"

	"github.com/kbukum/imgflow/api"
	"github.com/kbukum/imgflow/bus"
	"github.com/kbukum/imgflow/completion"
	"github.com/kbukum/imgflow/config"
	"github.com/kbukum/imgflow/ingress"
	"github.com/kbukum/imgflow/kafka"
	"github.com/kbukum/imgflow/notify"
	"github.com/kbukum/imgflow/observability"
	"github.com/kbukum/imgflow/router"
	"github.com/kbukum/imgflow/server"
	"github.com/kbukum/imgflow/stage"
	"github.com/kbukum/imgflow/storage"
	"github.com/kbukum/imgflow/storage/gcs"
	"github.com/kbukum/imgflow/storage/local"
	"github.com/kbukum/imgflow/storage/s3"
)

// ServiceName is the default service name and config file stem.
const ServiceName = "imgflow"

// Bus drivers.
const (
	BusMemory = "memory"
	BusKafka  = "kafka"
)

// Config is the root configuration of every imgflow process.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config        `yaml:"server" mapstructure:"server"`
	API           api.Config           `yaml:"api" mapstructure:"api"`
	Bus           BusConfig            `yaml:"bus" mapstructure:"bus"`
	Kafka         kafka.Config         `yaml:"kafka" mapstructure:"kafka"`
	Storage       StorageConfig        `yaml:"storage" mapstructure:"storage"`
	Pipeline      PipelineConfig       `yaml:"pipeline" mapstructure:"pipeline"`
	Notify        notify.Config        `yaml:"notify" mapstructure:"notify"`
	Completion    completion.Config    `yaml:"completion" mapstructure:"completion"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// BusConfig selects the transport between ingress and workers.
type BusConfig struct {
	// Driver is "memory" (single process) or "kafka".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// QueueSize is the per-topic buffer of the memory bus.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// StorageConfig holds the two stores of the pipeline.
type StorageConfig struct {
	Working StoreConfig `yaml:"working" mapstructure:"working"`
	Output  StoreConfig `yaml:"output" mapstructure:"output"`
}

// StoreConfig is one store: the provider-neutral settings plus the settings
// of each provider. Only the selected provider's section is read.
type StoreConfig struct {
	storage.Config `yaml:",inline" mapstructure:",squash"`

	Local local.Config `yaml:"local" mapstructure:"local"`
	S3    s3.Config    `yaml:"s3" mapstructure:"s3"`
	GCS   gcs.Config   `yaml:"gcs" mapstructure:"gcs"`
}

// ProviderConfig returns the section of the selected provider.
func (c *StoreConfig) ProviderConfig() any {
	switch c.Provider {
	case storage.ProviderLocal:
		return &c.Local
	case storage.ProviderS3:
		return &c.S3
	case storage.ProviderGCS:
		return &c.GCS
	default:
		return nil
	}
}

// PipelineConfig holds the stage table, routing and submission settings. All
// three are read from the same "pipeline" section.
type PipelineConfig struct {
	Table   stage.Config   `yaml:",inline" mapstructure:",squash"`
	Routing router.Config  `yaml:",inline" mapstructure:",squash"`
	Ingress ingress.Config `yaml:",inline" mapstructure:",squash"`
}

// ApplyDefaults sets defaults for every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = ServiceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.API.ApplyDefaults()

	if c.Bus.Driver == "" {
		c.Bus.Driver = BusMemory
	}
	if c.Bus.QueueSize <= 0 {
		c.Bus.QueueSize = bus.DefaultQueueSize
	}
	c.Kafka.ApplyDefaults()
	if c.Bus.Driver == BusKafka {
		c.Kafka.Enabled = true
	}

	if c.Storage.Working.Name == "" {
		c.Storage.Working.Name = "working"
	}
	if c.Storage.Output.Name == "" {
		c.Storage.Output.Name = "output"
	}
	for _, sc := range []*StoreConfig{&c.Storage.Working, &c.Storage.Output} {
		if sc.Provider == "" {
			sc.Provider = storage.ProviderMemory
		}
		sc.ApplyDefaults()
		if sc.Provider == storage.ProviderLocal && sc.Local.Dir == "" {
			sc.Local.Dir = filepath.Join(local.DefaultRoot, sc.Name)
		}
		if p, ok := sc.ProviderConfig().(interface{ ApplyDefaults() }); ok {
			p.ApplyDefaults()
		}
	}

	c.Pipeline.Table.ApplyDefaults()
	c.Pipeline.Routing.ApplyDefaults()
	c.Pipeline.Ingress.ApplyDefaults()
	c.Notify.ApplyDefaults()
	c.Completion.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	switch c.Bus.Driver {
	case BusMemory:
	case BusKafka:
		if err := c.Kafka.Validate(); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	default:
		return fmt.Errorf("bus.driver must be %q or %q (got: %s)", BusMemory, BusKafka, c.Bus.Driver)
	}
	for _, s := range []*StoreConfig{&c.Storage.Working, &c.Storage.Output} {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("storage.%s: %w", s.Name, err)
		}
		if p, ok := s.ProviderConfig().(interface{ Validate() error }); ok {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("storage.%s: %w", s.Name, err)
			}
		}
	}
	if err := c.Pipeline.Table.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Routing.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Ingress.Validate(); err != nil {
		return err
	}
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	if err := c.Completion.Validate(); err != nil {
		return err
	}
	return c.Observability.Validate()
}
