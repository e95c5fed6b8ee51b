package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/kbukum/imgflow/component"
	"github.com/kbukum/imgflow/logger"
)

// Component owns the producer and reports whether any broker answers.
// Consumers belong to the stage runners subscribing through them.
type Component struct {
	cfg      Config
	producer io.Closer
	log      *logger.Logger
	started  atomic.Bool
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent wraps producer, which may be nil for consume-only processes.
func NewComponent(cfg Config, producer io.Closer, log *logger.Logger) *Component {
	if log == nil {
		log = logger.NewNop()
	}
	cfg.ApplyDefaults()
	return &Component{cfg: cfg, producer: producer, log: log.WithComponent("kafka")}
}

func (c *Component) Name() string { return "kafka" }

func (c *Component) Start(_ context.Context) error {
	if c.started.CompareAndSwap(false, true) {
		c.log.Info("Kafka bus configured", map[string]interface{}{"brokers": c.cfg.Brokers})
	}
	return nil
}

// Stop closes the producer.
func (c *Component) Stop(_ context.Context) error {
	if !c.started.CompareAndSwap(true, false) || c.producer == nil {
		return nil
	}
	if err := c.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// Health dials the brokers in order and asks the first reachable one for the
// cluster metadata.
func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if !c.started.Load() {
		h.Status, h.Message = component.StatusUnhealthy, "not started"
		return h
	}
	n, err := c.probe(ctx)
	switch {
	case err != nil:
		h.Status, h.Message = component.StatusUnhealthy, err.Error()
	case n == 0:
		h.Status, h.Message = component.StatusDegraded, "cluster reports no brokers"
	default:
		h.Message = fmt.Sprintf("%d brokers", n)
	}
	return h
}

func (c *Component) probe(ctx context.Context) (int, error) {
	dialer, err := c.cfg.Dialer()
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, addr := range c.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		brokers, err := conn.Brokers()
		_ = conn.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s metadata: %w", addr, err))
			continue
		}
		return len(brokers), nil
	}
	return 0, fmt.Errorf("no broker reachable: %w", errors.Join(errs...))
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Kafka",
		Type:    "kafka",
		Details: fmt.Sprintf("brokers=%s group=%s-<stage>", strings.Join(c.cfg.Brokers, ","), c.cfg.GroupID),
	}
}
