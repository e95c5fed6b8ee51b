package storage

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/kbukum/imgflow/component"
	"github.com/kbukum/imgflow/logger"
)

// healthKey is probed with Exists by backends that are not Pingers.
const healthKey = ".imgflow-health"

// Component puts an opened Storage under the component lifecycle.
type Component struct {
	store   Storage
	cfg     Config
	log     *logger.Logger
	started atomic.Bool
}

var _ component.Component = (*Component)(nil)

func NewComponent(cfg Config, s Storage, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	return &Component{store: s, cfg: cfg, log: log.WithComponent("storage." + cfg.Name)}
}

func (c *Component) Name() string { return "storage." + c.cfg.Name }

func (c *Component) Storage() Storage { return c.store }

// Start provisions the bucket when AutoCreate is set.
func (c *Component) Start(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("%s: no store", c.Name())
	}
	if c.cfg.AutoCreate {
		p, ok := c.store.(Provisioner)
		if !ok {
			c.log.Warn("auto_create ignored: provider cannot create buckets", map[string]interface{}{"provider": c.cfg.Provider})
		} else if err := p.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("%s: ensure bucket: %w", c.Name(), err)
		} else {
			c.log.Info("Bucket ready", map[string]interface{}{"location": c.location()})
		}
	}
	c.started.Store(true)
	return nil
}

// Stop closes the backend client if it has one.
func (c *Component) Stop(context.Context) error {
	if !c.started.Swap(false) {
		return nil
	}
	if cl, ok := c.store.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (c *Component) Health(ctx context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if !c.started.Load() {
		h.Status, h.Message = component.StatusUnhealthy, "not started"
		return h
	}
	var err error
	if p, ok := c.store.(Pinger); ok {
		err = p.Ping(ctx)
	} else {
		_, err = c.store.Exists(ctx, healthKey)
	}
	if err != nil {
		h.Status, h.Message = component.StatusUnhealthy, err.Error()
	}
	return h
}

func (c *Component) Describe() component.Description {
	details := "provider=" + c.cfg.Provider
	if loc := c.location(); loc != "" {
		details += " location=" + loc
	}
	return component.Description{Name: "Storage (" + c.cfg.Name + ")", Type: "storage", Details: details}
}

func (c *Component) location() string {
	if l, ok := c.store.(Locator); ok {
		return l.Location()
	}
	return ""
}
