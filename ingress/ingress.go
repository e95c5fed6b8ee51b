package ingress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/message"
	"github.com/kbukum/imgflow/observability"
	"github.com/kbukum/imgflow/router"
	"github.com/kbukum/imgflow/stage"
	"github.com/kbukum/imgflow/storage"
	"github.com/kbukum/imgflow/validation"
)

// Mode selects how requested stages are delivered.
type Mode string

const (
	// ModeSingle runs every stage once against the original image.
	ModeSingle Mode = "single"
	// ModeChain runs the stages in order, each on the previous output.
	ModeChain Mode = "chain"
)

// Config configures the Dispatcher.
type Config struct {
	KeyStrategy        string `yaml:"key_strategy" mapstructure:"key_strategy"`
	OutputFolderSuffix string `yaml:"output_folder_suffix" mapstructure:"output_folder_suffix"`
	DefaultMode        string `yaml:"default_mode" mapstructure:"default_mode"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.KeyStrategy == "" {
		c.KeyStrategy = string(KeyByName)
	}
	if c.OutputFolderSuffix == "" {
		c.OutputFolderSuffix = DefaultOutputFolderSuffix
	}
	if c.DefaultMode == "" {
		c.DefaultMode = string(ModeSingle)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !KeyStrategy(c.KeyStrategy).Valid() {
		return fmt.Errorf("pipeline.key_strategy must be %q or %q, got %q", KeyByName, KeyBySHA224, c.KeyStrategy)
	}
	if m := Mode(c.DefaultMode); m != ModeSingle && m != ModeChain {
		return fmt.Errorf("pipeline.default_mode must be %q or %q, got %q", ModeSingle, ModeChain, c.DefaultMode)
	}
	return nil
}

// Submission is one upload with its requested stages.
type Submission struct {
	Filename string   `json:"filename" validate:"required,max=255"`
	Image    []byte   `json:"-" validate:"required,min=1"`
	Stages   []string `json:"stages" validate:"required,min=1,max=32,dive,required"`
	// Mode defaults to the configured mode.
	Mode     Mode   `json:"mode" validate:"omitempty,oneof=single chain"`
	Callback string `json:"callback" validate:"omitempty,http_url"`
	// OutputFolder overrides the derived folder.
	OutputFolder string `json:"output_folder" validate:"omitempty,max=255,objectkey"`
}

// RunHandle identifies a submitted run.
type RunHandle struct {
	RunID        string          `json:"run_id"`
	SourceKey    string          `json:"source_key"`
	OutputFolder string          `json:"output_folder"`
	Mode         Mode            `json:"mode"`
	Stages       []string        `json:"stages"`
	Dispatched   []router.Result `json:"dispatched"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

// Router publishes pipeline messages. *router.Router implements it.
type Router interface {
	Dispatch(ctx context.Context, kind string, msg message.Message) (router.Result, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l.WithComponent("ingress")
		}
	}
}

// WithMetrics records submission errors.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher accepts submissions: it stores the source image in the working
// store and publishes the first pipeline messages of the run.
type Dispatcher struct {
	cfg      Config
	registry *stage.Registry
	router   Router
	working  storage.ByteClient
	metrics  *observability.Metrics
	log      *logger.Logger
	newID    func() string
	now      func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config, registry *stage.Registry, r Router, working storage.ByteClient, opts ...Option) (*Dispatcher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil || r == nil || working == nil {
		return nil, fmt.Errorf("ingress: registry, router and working store are required")
	}
	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
		router:   r,
		working:  working,
		log:      logger.NewNop(),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Submit starts a run.
//
// Invalid submissions fail with INVALID_INPUT and unregistered stages with
// UNKNOWN_STAGE, both before anything is stored or published. A failed source
// upload is STORE_UNAVAILABLE. Publish failures are joined into the returned
// error; the handle still lists every attempted dispatch.
func (d *Dispatcher) Submit(ctx context.Context, sub Submission) (*RunHandle, error) {
	if sub.Mode == "" {
		sub.Mode = Mode(d.cfg.DefaultMode)
	}
	if err := validation.Validate(sub); err != nil {
		return nil, err
	}
	if err := d.registry.Validate(sub.Stages); err != nil {
		d.metrics.RecordError(ctx, string(apperrors.ErrCodeUnknownStage), "ingress")
		return nil, err
	}

	key, err := DeriveKey(KeyStrategy(d.cfg.KeyStrategy), sub.Filename)
	if err != nil {
		return nil, apperrors.InvalidInput("filename", err.Error())
	}
	folder := sub.OutputFolder
	if folder == "" {
		folder = DeriveOutputFolder(key, d.cfg.OutputFolderSuffix)
	}

	handle := &RunHandle{
		RunID:        d.newID(),
		SourceKey:    key,
		OutputFolder: folder,
		Mode:         sub.Mode,
		Stages:       append([]string(nil), sub.Stages...),
		SubmittedAt:  d.now().UTC(),
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanSubmitRun,
		attribute.String(observability.AttrImage, key),
		attribute.String("run.mode", string(sub.Mode)),
		attribute.Int("run.stages", len(sub.Stages)),
	)
	defer span.End()

	if err := d.working.Upload(ctx, key, sub.Image); err != nil {
		span.RecordError(err)
		d.metrics.RecordError(ctx, string(apperrors.ErrCodeStoreUnavailable), "ingress")
		return nil, apperrors.StoreUnavailable("upload", key, err)
	}

	var callback *string
	if sub.Callback != "" {
		cb := sub.Callback
		callback = &cb
	}

	var errs []error
	publish := func(kind string, next []string) {
		res, err := d.router.Dispatch(ctx, kind, message.Message{
			ImageIdentifier: key,
			Next:            next,
			OutputFolder:    folder,
			Callback:        callback,
		})
		handle.Dispatched = append(handle.Dispatched, res)
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch sub.Mode {
	case ModeChain:
		publish(sub.Stages[0], append([]string{}, sub.Stages[1:]...))
	default:
		for _, kind := range sub.Stages {
			publish(kind, []string{})
		}
	}

	fields := map[string]interface{}{
		"run_id":                 handle.RunID,
		logger.FieldImage:        key,
		logger.FieldOutputFolder: folder,
		"mode":                   string(sub.Mode),
		"stages":                 sub.Stages,
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		d.log.Error("Run submitted with failed dispatches", logger.MergeWithError(fields, err))
		return handle, err
	}
	d.log.Info("Run submitted", fields)
	return handle, nil
}
