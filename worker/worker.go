package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/message"
	"github.com/kbukum/imgflow/notify"
	"github.com/kbukum/imgflow/observability"
	"github.com/kbukum/imgflow/router"
	"github.com/kbukum/imgflow/stage"
	"github.com/kbukum/imgflow/storage"
	"github.com/kbukum/imgflow/transform"
)

// State is a step of a hop.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateFetching     State = "FETCHING"
	StateTransforming State = "TRANSFORMING"
	StateWritten      State = "WRITTEN"
	StateTerminal     State = "TERMINAL"
	StateAdvancing    State = "ADVANCING"
	StateDone         State = "DONE"
)

// Hop outcomes recorded in metrics and spans.
const (
	OutcomeTerminal = "terminal"
	OutcomeAdvanced = "advanced"
	OutcomeStalled  = "stalled"
	OutcomeFailed   = "failed"
)

// DefaultNotifyTimeout bounds a completion notification.
const DefaultNotifyTimeout = 10 * time.Second

// Dispatcher publishes the advance message of a non-terminal hop.
// *router.Router implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, msg message.Message) (router.Result, error)
}

// Report describes what one hop did. A hop that failed carries the state it
// failed in.
type Report struct {
	Stage     string
	State     State
	Input     string
	OutputKey string
	Terminal  bool
	// NextStage and Remaining describe the advance message.
	NextStage string
	Remaining []string
	// Dispatch is set once the advance publish was attempted.
	Dispatch    *router.Result
	DispatchErr error
	Notified    bool
	NotifyErr   error
	Duration    time.Duration
}

// Stalled reports whether the hop wrote its output but could not hand the
// run to the next stage.
func (r *Report) Stalled() bool { return r.DispatchErr != nil }

// Deps are the collaborators of a Worker. Working, Output, Transformer and
// Router are required.
type Deps struct {
	Registry    *stage.Registry
	Router      Dispatcher
	Transformer transform.Transformer
	Working     storage.ByteClient
	Output      storage.ByteClient
	Notifier    notify.Notifier
	Metrics     *observability.Metrics
	Logger      *logger.Logger
	// NotifyTimeout bounds the completion callback. Zero uses DefaultNotifyTimeout.
	NotifyTimeout time.Duration
	// ServiceName labels hop spans.
	ServiceName string
	// Token returns the disambiguating output token. Defaults to RandomToken.
	Token func() int
}

// Worker runs hops for a single stage kind. It keeps no state between hops
// and is safe for concurrent use.
type Worker struct {
	stage         stage.Stage
	registry      *stage.Registry
	router        Dispatcher
	transformer   transform.Transformer
	working       storage.ByteClient
	output        storage.ByteClient
	notifier      notify.Notifier
	notifyTimeout time.Duration
	metrics       *observability.Metrics
	serviceName   string
	token         func() int
	log           *logger.Logger
}

// New creates the worker for kind.
func New(kind string, d Deps) (*Worker, error) {
	if d.Registry == nil {
		return nil, fmt.Errorf("worker %s: registry is required", kind)
	}
	s, err := d.Registry.Resolve(kind)
	if err != nil {
		return nil, err
	}
	switch {
	case d.Router == nil:
		return nil, fmt.Errorf("worker %s: router is required", kind)
	case d.Transformer == nil:
		return nil, fmt.Errorf("worker %s: transformer is required", kind)
	case d.Working == nil || d.Output == nil:
		return nil, fmt.Errorf("worker %s: working and output stores are required", kind)
	}

	w := &Worker{
		stage:         s,
		registry:      d.Registry,
		router:        d.Router,
		transformer:   d.Transformer,
		working:       d.Working,
		output:        d.Output,
		notifier:      d.Notifier,
		notifyTimeout: d.NotifyTimeout,
		metrics:       d.Metrics,
		serviceName:   d.ServiceName,
		token:         d.Token,
		log:           d.Logger,
	}
	if w.notifier == nil {
		w.notifier = notify.Noop{}
	}
	if w.notifyTimeout <= 0 {
		w.notifyTimeout = DefaultNotifyTimeout
	}
	if w.token == nil {
		w.token = RandomToken
	}
	if w.log == nil {
		w.log = logger.NewNop()
	}
	w.log = w.log.WithComponent("worker").WithFields(map[string]interface{}{logger.FieldStage: kind})
	return w, nil
}

// Stage returns the stage this worker runs.
func (w *Worker) Stage() stage.Stage { return w.stage }

// Handle runs one hop for the encoded pipeline message in payload.
//
// A returned error is fatal to the hop: MALFORMED_MESSAGE, UNKNOWN_STAGE,
// STORE_UNAVAILABLE or TRANSFORM_FAILED. A failed advance publish is not an
// error; the hop completes and the Report records the stalled run.
func (w *Worker) Handle(ctx context.Context, payload []byte) (*Report, error) {
	return w.handle(ctx, payload, "")
}

func (w *Worker) handle(ctx context.Context, payload []byte, messageID string) (*Report, error) {
	start := time.Now()
	report := &Report{Stage: w.stage.Kind, State: StateReceived}

	msg, err := message.Decode(payload)
	if err != nil {
		report.Duration = time.Since(start)
		w.metrics.RecordHop(ctx, w.stage.Kind, OutcomeFailed, report.Duration)
		w.metrics.RecordError(ctx, string(apperrors.ErrCodeMalformedMessage), "worker")
		w.log.Error("Dropping undecodable message", map[string]interface{}{
			logger.FieldMessageID: messageID,
			logger.FieldError:     err.Error(),
		})
		return report, err
	}
	report.Input = msg.ImageIdentifier

	ctx, hop := observability.StartHop(ctx, w.serviceName, w.stage.Kind, msg.ImageIdentifier, messageID, w.metrics)
	outcome, err := w.run(ctx, msg, report)
	hop.End(ctx, outcome, err)
	report.Duration = time.Since(start)

	fields := logger.MergeWithDuration(logger.HopFields(w.stage.Kind, msg.ImageIdentifier, msg.OutputFolder), report.Duration)
	fields[logger.FieldState] = string(report.State)
	if err != nil {
		w.metrics.RecordError(ctx, string(apperrors.Wrap(err).Code), "worker")
		w.log.Error("Hop failed", logger.MergeWithError(fields, err))
		return report, err
	}
	fields[logger.FieldOutputKey] = report.OutputKey
	if report.Stalled() {
		w.log.Error("Run stalled: advance message was not published", logger.MergeWithError(fields, report.DispatchErr))
	}
	return report, nil
}

func (w *Worker) run(ctx context.Context, msg message.Message, report *Report) (string, error) {
	if err := w.registry.Validate(msg.Next); err != nil {
		return OutcomeFailed, err
	}

	w.transition(report, StateFetching, msg)
	src, err := w.working.Download(ctx, msg.ImageIdentifier)
	if err != nil {
		se := apperrors.StoreUnavailable("download", msg.ImageIdentifier, err)
		if errors.Is(err, storage.ErrNotFound) {
			se = se.WithDetail("missing", true)
		}
		return OutcomeFailed, se
	}

	w.transition(report, StateTransforming, msg)
	out, err := w.transformer.Transform(ctx, src, w.stage.Kind, w.stage.Params)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeTransformFailed) {
			err = apperrors.TransformFailed(w.stage.Kind, err)
		}
		return OutcomeFailed, err
	}

	name := OutputName(msg.ImageIdentifier, w.stage.Suffix, w.token())

	if msg.IsTerminal() {
		return w.finish(ctx, msg, name, out, report)
	}
	return w.advance(ctx, msg, name, out, report)
}

// finish writes the terminal artifact under the run's output folder and
// notifies the callback, if any.
func (w *Worker) finish(ctx context.Context, msg message.Message, name string, out []byte, report *Report) (string, error) {
	key := path.Join(msg.OutputFolder, name)
	if err := w.output.Upload(ctx, key, out); err != nil {
		return OutcomeFailed, apperrors.StoreUnavailable("upload", key, err)
	}
	report.OutputKey = key
	report.Terminal = true
	w.transition(report, StateWritten, msg)
	w.transition(report, StateTerminal, msg)

	w.log.Info("Terminal artifact written", map[string]interface{}{
		logger.FieldImage:        msg.ImageIdentifier,
		logger.FieldOutputFolder: msg.OutputFolder,
		logger.FieldOutputKey:    key,
	})

	if cb := msg.CallbackURL(); cb != "" {
		report.NotifyErr = w.notify(ctx, msg, key, cb)
		report.Notified = report.NotifyErr == nil
	}
	w.transition(report, StateDone, msg)
	return OutcomeTerminal, nil
}

// notify runs detached from ctx cancellation so a hop that is shutting down
// still reports a finished run. Failures are logged and returned for the
// report only.
func (w *Worker) notify(ctx context.Context, msg message.Message, key, callback string) error {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.notifyTimeout)
	defer cancel()

	location, err := w.output.URL(nctx, key)
	if err != nil {
		location = key
	}
	err = w.notifier.Notify(nctx, notify.Completion{
		Callback:     callback,
		Stage:        w.stage.Kind,
		Source:       msg.ImageIdentifier,
		OutputFolder: msg.OutputFolder,
		OutputKey:    key,
		Location:     location,
		CompletedAt:  time.Now().UTC(),
	})
	if err != nil {
		w.log.Warn("Completion notification failed", map[string]interface{}{
			logger.FieldOutputKey: key,
			"callback":            callback,
			logger.FieldError:     err.Error(),
		})
	}
	return err
}

// advance writes the intermediate image to the working store and publishes
// the shortened message to the next stage.
func (w *Worker) advance(ctx context.Context, msg message.Message, name string, out []byte, report *Report) (string, error) {
	if err := w.working.Upload(ctx, name, out); err != nil {
		return OutcomeFailed, apperrors.StoreUnavailable("upload", name, err)
	}
	report.OutputKey = name
	w.transition(report, StateWritten, msg)

	kind, next, err := msg.Advance(name)
	if err != nil {
		return OutcomeFailed, err
	}
	report.NextStage = kind
	report.Remaining = next.Next
	w.transition(report, StateAdvancing, msg)

	res, err := w.router.Dispatch(ctx, kind, next)
	report.Dispatch = &res
	w.transition(report, StateDone, msg)
	if err != nil {
		report.DispatchErr = err
		return OutcomeStalled, nil
	}

	w.log.Info("Run advanced", map[string]interface{}{
		logger.FieldImage:     name,
		logger.FieldTopic:     res.Topic,
		logger.FieldRemaining: len(next.Next),
		"next_stage":          kind,
	})
	return OutcomeAdvanced, nil
}

func (w *Worker) transition(report *Report, s State, msg message.Message) {
	report.State = s
	w.log.Debug("Hop state", map[string]interface{}{
		logger.FieldState:     string(s),
		logger.FieldImage:     msg.ImageIdentifier,
		logger.FieldRemaining: len(msg.Next),
	})
}
