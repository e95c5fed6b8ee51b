package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/kbukum/imgflow/bus"
	"github.com/kbukum/imgflow/kafka"
	"github.com/kbukum/imgflow/kafka/producer"
)

// MockProducer records what would have been written to Kafka. Failures go
// through kafka.FromKafka, so callers see the errors of the real producer.
type MockProducer struct {
	mu     sync.Mutex
	sent   []bus.Delivery
	err    error
	hang   bool
	closed bool
}

var _ bus.Publisher = (*MockProducer)(nil)

func NewMockProducer() *MockProducer { return &MockProducer{} }

// FailWith makes the following publishes fail with err, as returned by the
// kafka-go writer.
func (p *MockProducer) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Hang makes the following publishes wait for their context, like a broker
// that never acknowledges.
func (p *MockProducer) Hang() {
	p.mu.Lock()
	p.hang = true
	p.mu.Unlock()
}

func (p *MockProducer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	p.mu.Lock()
	closed, hang, err := p.closed, p.hang, p.err
	p.mu.Unlock()

	switch {
	case closed:
		return producer.ErrClosed
	case hang:
		<-ctx.Done()
		return kafka.FromKafka(ctx.Err(), topic)
	case err != nil:
		return kafka.FromKafka(err, topic)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, bus.Delivery{
		Topic:   topic,
		Key:     key,
		Value:   slices.Clone(value),
		Headers: maps.Clone(headers),
	})
	return nil
}

// Messages returns the recorded publishes in order.
func (p *MockProducer) Messages() []bus.Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// Reset forgets recorded publishes and configured failures.
func (p *MockProducer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent, p.err, p.hang = nil, nil, false
}

func (p *MockProducer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
