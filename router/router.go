package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/imgflow/bus"
	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/message"
	"github.com/kbukum/imgflow/observability"
	"github.com/kbukum/imgflow/stage"
)

// DefaultPublishTimeout bounds the wait for a publish acknowledgement.
const DefaultPublishTimeout = 60 * time.Second

// ContentTypeJSON is sent in the content-type header of every message.
const ContentTypeJSON = "application/json"

// Outcome classifies a dispatch.
type Outcome string

// Dispatch outcomes.
const (
	Published      Outcome = "published"
	PublishTimeout Outcome = "publish_timeout"
	PublishFailed  Outcome = "publish_failed"
)

// Result describes one dispatch attempt.
type Result struct {
	Outcome   Outcome       `json:"outcome"`
	Kind      string        `json:"stage"`
	Topic     string        `json:"topic"`
	MessageID string        `json:"message_id"`
	Duration  time.Duration `json:"duration"`
}

// Config configures the router.
type Config struct {
	// PublishTimeout is how long a dispatch waits for the bus to acknowledge.
	PublishTimeout string `yaml:"publish_timeout" mapstructure:"publish_timeout"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.PublishTimeout == "" {
		c.PublishTimeout = DefaultPublishTimeout.String()
	}
}

// Validate checks the publish timeout syntax and sign.
func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.PublishTimeout)
	if err != nil {
		return fmt.Errorf("invalid publish_timeout %q: %w", c.PublishTimeout, err)
	}
	if d <= 0 {
		return fmt.Errorf("publish_timeout must be positive (got: %s)", c.PublishTimeout)
	}
	return nil
}

// Timeout returns the parsed publish timeout.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.PublishTimeout)
	if err != nil || d <= 0 {
		return DefaultPublishTimeout
	}
	return d
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout overrides the publish timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics records publish metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLogger sets the router logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l.WithComponent("router")
		}
	}
}

// Router resolves a stage kind to its topic and publishes pipeline messages
// with a bounded wait for acknowledgement. It makes exactly one publish
// attempt per Dispatch.
type Router struct {
	registry  *stage.Registry
	publisher bus.Publisher
	timeout   time.Duration
	metrics   *observability.Metrics
	log       *logger.Logger
	newID     func() string
}

// New creates a Router.
func New(registry *stage.Registry, publisher bus.Publisher, opts ...Option) *Router {
	r := &Router{
		registry:  registry,
		publisher: publisher,
		timeout:   DefaultPublishTimeout,
		log:       logger.NewNop(),
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the configured publish timeout.
func (r *Router) Timeout() time.Duration { return r.timeout }

// Dispatch publishes msg to the topic of kind and blocks until the bus
// acknowledges or the publish timeout elapses.
//
// Errors are AppErrors: UNKNOWN_STAGE and MALFORMED_MESSAGE before anything
// is published, PUBLISH_TIMEOUT when the wait elapsed, PUBLISH_FAILED
// otherwise. The Result is filled in for publish outcomes.
func (r *Router) Dispatch(ctx context.Context, kind string, msg message.Message) (Result, error) {
	s, err := r.registry.Resolve(kind)
	if err != nil {
		return Result{}, err
	}
	payload, err := message.Encode(msg)
	if err != nil {
		return Result{}, err
	}

	res := Result{Kind: kind, Topic: s.Topic, MessageID: r.newID()}
	headers := map[string]string{
		bus.HeaderContentType: ContentTypeJSON,
		bus.HeaderMessageID:   res.MessageID,
		bus.HeaderStage:       kind,
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanPublish,
		attribute.String(observability.AttrStage, kind),
		attribute.String(observability.AttrTopic, s.Topic),
		attribute.String(observability.AttrMessageID, res.MessageID),
		attribute.Int(observability.AttrRemaining, len(msg.Next)),
	)
	defer func() { observability.EndSpan(span, err) }()

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	pubErr := r.publisher.Publish(pubCtx, s.Topic, msg.ImageIdentifier, payload, headers)
	res.Duration = time.Since(start)

	err = r.classify(s.Topic, pubErr)
	switch {
	case err == nil:
		res.Outcome = Published
	case apperrors.HasCode(err, apperrors.ErrCodePublishTimeout):
		res.Outcome = PublishTimeout
	default:
		res.Outcome = PublishFailed
	}

	span.SetAttributes(attribute.String(observability.AttrOutcome, string(res.Outcome)))
	r.metrics.RecordPublish(ctx, s.Topic, string(res.Outcome), res.Duration)

	fields := map[string]interface{}{
		logger.FieldStage:     kind,
		logger.FieldTopic:     s.Topic,
		logger.FieldImage:     msg.ImageIdentifier,
		logger.FieldRemaining: len(msg.Next),
		logger.FieldDuration:  res.Duration.Milliseconds(),
		logger.FieldMessageID: res.MessageID,
	}
	if err != nil {
		r.metrics.RecordError(ctx, string(apperrors.Wrap(err).Code), "router")
		r.log.Warn("Publish not acknowledged", logger.MergeWithError(fields, err))
		return res, err
	}
	r.log.Debug("Message published", fields)
	return res, nil
}

// classify maps a publisher error onto the pipeline taxonomy.
func (r *Router) classify(topic string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || apperrors.HasCode(err, apperrors.ErrCodeTimeout) {
		return apperrors.PublishTimeout(topic, r.timeout).WithCause(err)
	}
	if apperrors.HasCode(err, apperrors.ErrCodePublishFailed) {
		return err
	}
	return apperrors.PublishFailed(topic, err)
}
