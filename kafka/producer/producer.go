package producer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/imgflow/bus"
	"github.com/kbukum/imgflow/kafka"
	"github.com/kbukum/imgflow/logger"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("kafka producer is closed")

// Producer publishes pipeline hops. Each publish is one attempt; the caller's
// context bounds the acknowledgement wait. The writer connects on first use,
// so building a Producer needs no reachable broker.
type Producer struct {
	writer *kafkago.Writer
	log    *logger.Logger
	closed atomic.Bool
}

var _ bus.Publisher = (*Producer)(nil)

// New builds a single-attempt Producer from cfg.
func New(cfg kafka.Config, log *logger.Logger) (*Producer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	cfg.ApplyDefaults()
	if !cfg.Enabled {
		return nil, errors.New("kafka is disabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka producer config: %w", err)
	}
	transport, err := cfg.Transport()
	if err != nil {
		return nil, err
	}

	plog := log.WithComponent("kafka.producer")
	return &Producer{
		log: plog,
		writer: &kafkago.Writer{
			Addr:      kafkago.TCP(cfg.Brokers...),
			Transport: transport,
			// Hash on the key keeps every hop of one image on one partition.
			Balancer:               &kafkago.Hash{},
			MaxAttempts:            1,
			BatchSize:              1,
			BatchTimeout:           kafka.ParseDuration(cfg.Producer.BatchTimeout),
			WriteTimeout:           kafka.ParseDuration(cfg.Producer.WriteTimeout),
			ReadTimeout:            kafka.ParseDuration(cfg.Producer.WriteTimeout),
			RequiredAcks:           cfg.RequiredAcks(),
			Compression:            cfg.Compression(),
			AllowAutoTopicCreation: cfg.AutoCreateTopics,
			ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
				plog.Warn(fmt.Sprintf(msg, args...))
			}),
		},
	}, nil
}

// Publish writes one message and waits for the acknowledgement. Errors come
// back translated by kafka.FromKafka.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message(topic, key, value, headers)); err != nil {
		return kafka.FromKafka(err, topic)
	}
	return nil
}

// Close flushes and closes the writer. It is safe to call more than once.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	stats := p.writer.Stats()
	p.log.Info("Kafka producer closing", map[string]interface{}{
		"messages": stats.Messages,
		"errors":   stats.Errors,
	})
	return p.writer.Close()
}
