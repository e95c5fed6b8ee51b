package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
	kafkago "github.com/segmentio/kafka-go"
)

// Config is the Kafka section of the imgflow configuration.
type Config struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`

	// GroupID prefixes the consumer group of every stage: stage workers
	// consume in "<group_id>-<kind>".
	GroupID string `mapstructure:"group_id"`

	// AutoCreateTopics lets the first publish to a stage topic create it.
	AutoCreateTopics bool `mapstructure:"auto_create_topics"`

	DialTimeout string `mapstructure:"dial_timeout"`

	TLS      TLSConfig      `mapstructure:"tls"`
	SASL     SASLConfig     `mapstructure:"sasl"`
	Producer ProducerConfig `mapstructure:"producer"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SkipVerify bool   `mapstructure:"skip_verify"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
}

type SASLConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// ProducerConfig tunes the writer. There are no retry settings: a hop is
// published once and the router bounds the acknowledgement wait.
type ProducerConfig struct {
	// Compression is none, gzip, snappy, lz4 or zstd.
	Compression  string `mapstructure:"compression"`
	BatchTimeout string `mapstructure:"batch_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	// Acks is all, one or none.
	Acks string `mapstructure:"acks"`
}

type ConsumerConfig struct {
	// StartOffset is where a new group starts: first or last.
	StartOffset       string `mapstructure:"start_offset"`
	MaxBytes          string `mapstructure:"max_bytes"`
	SessionTimeout    string `mapstructure:"session_timeout"`
	HeartbeatInterval string `mapstructure:"heartbeat_interval"`
	RebalanceTimeout  string `mapstructure:"rebalance_timeout"`
	// MaxReadBackoff caps the wait between failed fetches.
	MaxReadBackoff string `mapstructure:"max_read_backoff"`
}

var (
	compressions = map[string]kafkago.Compression{
		"none":   0,
		"gzip":   kafkago.Gzip,
		"snappy": kafkago.Snappy,
		"lz4":    kafkago.Lz4,
		"zstd":   kafkago.Zstd,
	}
	acks = map[string]kafkago.RequiredAcks{
		"all":  kafkago.RequireAll,
		"one":  kafkago.RequireOne,
		"none": kafkago.RequireNone,
	}
	startOffsets = map[string]int64{
		"first": kafkago.FirstOffset,
		"last":  kafkago.LastOffset,
	}
)

func setDefault(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	setDefault(&c.GroupID, "imgflow")
	setDefault(&c.DialTimeout, "10s")
	if c.SASL.Enabled {
		setDefault(&c.SASL.Mechanism, "PLAIN")
	}

	p := &c.Producer
	setDefault(&p.Compression, "snappy")
	setDefault(&p.BatchTimeout, "5ms")
	setDefault(&p.WriteTimeout, "10s")
	setDefault(&p.Acks, "all")

	cc := &c.Consumer
	setDefault(&cc.StartOffset, "first")
	setDefault(&cc.MaxBytes, "10MB")
	setDefault(&cc.SessionTimeout, "30s")
	setDefault(&cc.HeartbeatInterval, "3s")
	setDefault(&cc.RebalanceTimeout, "30s")
	setDefault(&cc.MaxReadBackoff, "30s")
}

// Validate checks the section only when Kafka is enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	for name, v := range map[string]string{
		"dial_timeout":                c.DialTimeout,
		"producer.batch_timeout":      c.Producer.BatchTimeout,
		"producer.write_timeout":      c.Producer.WriteTimeout,
		"consumer.session_timeout":    c.Consumer.SessionTimeout,
		"consumer.heartbeat_interval": c.Consumer.HeartbeatInterval,
		"consumer.rebalance_timeout":  c.Consumer.RebalanceTimeout,
		"consumer.max_read_backoff":   c.Consumer.MaxReadBackoff,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid kafka.%s %q: %w", name, v, err)
		}
	}
	if _, ok := compressions[c.Producer.Compression]; !ok {
		return fmt.Errorf("unsupported kafka.producer.compression: %s", c.Producer.Compression)
	}
	if _, ok := acks[c.Producer.Acks]; !ok {
		return fmt.Errorf("kafka.producer.acks must be all, one or none (got: %s)", c.Producer.Acks)
	}
	if _, ok := startOffsets[c.Consumer.StartOffset]; !ok {
		return fmt.Errorf("kafka.consumer.start_offset must be first or last (got: %s)", c.Consumer.StartOffset)
	}
	if n, err := units.RAMInBytes(c.Consumer.MaxBytes); err != nil || n <= 0 {
		return fmt.Errorf("invalid kafka.consumer.max_bytes %q", c.Consumer.MaxBytes)
	}
	if c.SASL.Enabled {
		switch c.SASL.Mechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", c.SASL.Mechanism)
		}
		if c.SASL.Username == "" {
			return errors.New("kafka.sasl.username is required")
		}
	}
	return nil
}

// Group returns the consumer group of a stage.
func (c *Config) Group(kind string) string { return c.GroupID + "-" + kind }

// BoundWrites raises producer.write_timeout above wait, so an unanswered
// write is ended by the caller's publish deadline and not by the writer.
func (c *Config) BoundWrites(wait time.Duration) {
	if floor := wait + time.Second; ParseDuration(c.Producer.WriteTimeout) < floor {
		c.Producer.WriteTimeout = floor.String()
	}
}

// RequiredAcks maps producer.acks to the writer setting.
func (c *Config) RequiredAcks() kafkago.RequiredAcks { return acks[c.Producer.Acks] }

// Compression maps producer.compression to the writer codec.
func (c *Config) Compression() kafkago.Compression { return compressions[c.Producer.Compression] }

// StartOffset defaults to the first offset.
func (c *Config) StartOffset() int64 {
	if o, ok := startOffsets[c.Consumer.StartOffset]; ok {
		return o
	}
	return kafkago.FirstOffset
}

// MaxBytes is the fetch size limit, 10MB when unset or invalid.
func (c *Config) MaxBytes() int {
	if n, err := units.RAMInBytes(c.Consumer.MaxBytes); err == nil && n > 0 {
		return int(n)
	}
	return 10 * units.MiB
}

// ParseDuration returns zero for an empty or invalid value.
func ParseDuration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}
