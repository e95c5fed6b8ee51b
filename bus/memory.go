package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/imgflow/logger"
)

// DefaultQueueSize is the per-topic buffer of the in-memory bus.
const DefaultQueueSize = 1024

// Memory is an in-process bus. Each topic is a bounded FIFO queue; a publish
// blocks while the queue is full, so a context deadline surfaces as a publish
// timeout exactly as a slow broker would.
type Memory struct {
	mu      sync.Mutex
	queues  map[string]chan Delivery
	history map[string][]Delivery
	size    int
	closed  bool
	log     *logger.Logger
}

var (
	_ Publisher  = (*Memory)(nil)
	_ Subscriber = (*Memory)(nil)
)

// NewMemory creates an in-memory bus with the given per-topic queue size.
// A non-positive size falls back to DefaultQueueSize.
func NewMemory(size int, log *logger.Logger) *Memory {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Memory{
		queues:  make(map[string]chan Delivery),
		history: make(map[string][]Delivery),
		size:    size,
		log:     log.WithComponent("bus.memory"),
	}
}

func (m *Memory) queue(topic string) (chan Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("bus closed")
	}
	q, ok := m.queues[topic]
	if !ok {
		q = make(chan Delivery, m.size)
		m.queues[topic] = q
	}
	return q, nil
}

// Publish enqueues the message on topic.
func (m *Memory) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	q, err := m.queue(topic)
	if err != nil {
		return err
	}
	d := Delivery{
		Topic:     topic,
		Key:       key,
		Value:     append([]byte(nil), value...),
		Headers:   copyHeaders(headers),
		Timestamp: time.Now(),
	}
	select {
	case q <- d:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	m.history[topic] = append(m.history[topic], d)
	m.mu.Unlock()
	return nil
}

// Subscribe drains topic until ctx is cancelled. The in-memory bus has a single
// queue per topic, so concurrent subscribers on the same topic share its
// messages regardless of group.
func (m *Memory) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	q, err := m.queue(topic)
	if err != nil {
		return err
	}
	m.log.Debug("Subscribed", map[string]interface{}{
		logger.FieldTopic: topic,
		"group":           group,
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-q:
			if err := handler(ctx, d); err != nil {
				m.log.Error("Message processing failed", map[string]interface{}{
					logger.FieldTopic: topic,
					logger.FieldError: err.Error(),
				})
			}
		}
	}
}

// Published returns every message accepted on topic so far, in publish order.
func (m *Memory) Published(topic string) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.history[topic]))
	copy(out, m.history[topic])
	return out
}

// Close rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
