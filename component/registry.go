package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/imgflow/logger"
)

// StopTimeout bounds the Stop of a single component.
const StopTimeout = 10 * time.Second

// Registry starts components in registration order and stops them in
// reverse.
type Registry struct {
	mu      sync.RWMutex
	order   []Component
	byName  map[string]Component
	started map[string]bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Component{}, started: map[string]bool{}}
}

// Register adds c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[c.Name()]; dup {
		return fmt.Errorf("component %s already registered", c.Name())
	}
	r.order = append(r.order, c)
	r.byName[c.Name()] = c
	return nil
}

// StartAll starts every component not yet started. When one fails, the ones
// started by this call are stopped again before the error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var now []Component
	for _, c := range r.order {
		if r.started[c.Name()] {
			continue
		}
		if err := c.Start(ctx); err != nil {
			logger.Error("Component start failed", map[string]interface{}{
				"component":       c.Name(),
				logger.FieldError: err.Error(),
			})
			for i := len(now) - 1; i >= 0; i-- {
				_ = r.stop(ctx, now[i])
			}
			return fmt.Errorf("failed to start %s: %w", c.Name(), err)
		}
		r.started[c.Name()] = true
		now = append(now, c)
	}
	logger.Info("Components started", map[string]interface{}{"count": len(now)})
	return nil
}

// StopAll stops every started component in reverse registration order. All
// components are attempted; the errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		if c := r.order[i]; r.started[c.Name()] {
			errs = append(errs, r.stop(ctx, c))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) stop(ctx context.Context, c Component) error {
	ctx, cancel := context.WithTimeout(ctx, StopTimeout)
	defer cancel()
	delete(r.started, c.Name())
	if err := c.Stop(ctx); err != nil {
		logger.Error("Component stop failed", map[string]interface{}{
			"component":       c.Name(),
			logger.FieldError: err.Error(),
		})
		return fmt.Errorf("failed to stop %s: %w", c.Name(), err)
	}
	logger.Debug("Component stopped", map[string]interface{}{"component": c.Name()})
	return nil
}

// HealthAll asks every component for its health, in registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	all := r.All()
	out := make([]Health, len(all))
	for i, c := range all {
		out[i] = c.Health(ctx)
	}
	return out
}

// Status is the worst health of all components.
func (r *Registry) Status(ctx context.Context) HealthStatus {
	return Worst(r.HealthAll(ctx))
}

// Get returns the component registered as name, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// All returns the components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Component(nil), r.order...)
}
