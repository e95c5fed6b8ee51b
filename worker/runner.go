package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/imgflow/bus"
	"github.com/kbukum/imgflow/component"
	"github.com/kbukum/imgflow/logger"
)

// Runner subscribes a Worker to its stage topic for the lifetime of the
// component.
type Runner struct {
	worker     *Worker
	subscriber bus.Subscriber
	group      string
	log        *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	hops    context.Context
	abort   context.CancelFunc
	done    chan struct{}
	running bool
	subErr  error

	handled atomic.Int64
	failed  atomic.Int64
	stalled atomic.Int64
}

var (
	_ component.Component   = (*Runner)(nil)
	_ component.Describable = (*Runner)(nil)
)

// NewRunner creates a Runner consuming as member of group. An empty group
// leaves the choice to the subscriber.
func NewRunner(w *Worker, sub bus.Subscriber, group string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		worker:     w,
		subscriber: sub,
		group:      group,
		log:        log.WithComponent("worker.runner"),
	}
}

// Name returns "worker.<kind>".
func (r *Runner) Name() string { return "worker." + r.worker.stage.Kind }

// Start begins consuming in the background. The subscription outlives ctx and
// ends on Stop. Hops run detached from the subscription, so stopping it never
// interrupts a hop between its store write and its advance publish.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	base := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(base)
	r.cancel = cancel
	r.hops, r.abort = context.WithCancel(base)
	r.done = make(chan struct{})
	r.running = true
	r.subErr = nil

	topic := r.worker.stage.Topic
	go func(done chan struct{}) {
		defer close(done)
		err := r.subscriber.Subscribe(runCtx, topic, r.group, r.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("Subscription ended", map[string]interface{}{
				logger.FieldTopic: topic,
				logger.FieldError: err.Error(),
			})
		}
		r.mu.Lock()
		r.running = false
		if err != nil && !errors.Is(err, context.Canceled) {
			r.subErr = err
		}
		r.mu.Unlock()
	}(r.done)

	r.log.Info("Worker subscribed", map[string]interface{}{
		logger.FieldStage: r.worker.stage.Kind,
		logger.FieldTopic: topic,
		"group":           r.group,
	})
	return nil
}

// Stop ends the subscription and waits for the in-flight hop to finish. When
// ctx is done first the hop is aborted and ctx's error returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, abort, done := r.cancel, r.abort, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	defer abort()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("Worker stop timed out, aborting in-flight hop", map[string]interface{}{
			logger.FieldStage: r.worker.stage.Kind,
		})
		return ctx.Err()
	}
	handled, failed, stalled := r.Stats()
	r.log.Info("Worker stopped", map[string]interface{}{
		logger.FieldStage: r.worker.stage.Kind,
		"handled":         handled,
		"failed":          failed,
		"stalled":         stalled,
	})
	return nil
}

// Health is unhealthy once the subscription has ended on its own.
func (r *Runner) Health(_ context.Context) component.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	handled, failed, stalled := r.Stats()
	h := component.Health{
		Name:    r.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("handled=%d failed=%d", handled, failed),
	}
	switch {
	case r.subErr != nil:
		h.Status = component.StatusUnhealthy
		h.Message = r.subErr.Error()
	case !r.running:
		h.Status = component.StatusUnhealthy
		h.Message = "not running"
	case stalled > 0:
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("%d stalled runs", stalled)
	}
	return h
}

// Describe returns the startup summary line.
func (r *Runner) Describe() component.Description {
	return component.Description{
		Name:    "Worker " + r.worker.stage.Kind,
		Type:    "worker",
		Details: fmt.Sprintf("topic=%s group=%s", r.worker.stage.Topic, r.group),
	}
}

// Stats returns the number of handled, failed and stalled hops.
func (r *Runner) Stats() (handled, failed, stalled int64) {
	return r.handled.Load(), r.failed.Load(), r.stalled.Load()
}

func (r *Runner) handle(ctx context.Context, d bus.Delivery) error {
	r.mu.Lock()
	hops := r.hops
	r.mu.Unlock()
	ctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	defer context.AfterFunc(hops, stop)()

	report, err := r.worker.handle(ctx, d.Value, d.Headers[bus.HeaderMessageID])
	r.handled.Add(1)
	if err != nil {
		r.failed.Add(1)
		return err
	}
	if report.Stalled() {
		r.stalled.Add(1)
	}
	return nil
}
