package app

import (
	"context"
	"fmt"

	"github.com/kbukum/imgflow/api"
	"github.com/kbukum/imgflow/bus"
	"github.com/kbukum/imgflow/completion"
	"github.com/kbukum/imgflow/component"
	"github.com/kbukum/imgflow/ingress"
	"github.com/kbukum/imgflow/kafka"
	"github.com/kbukum/imgflow/kafka/consumer"
	"github.com/kbukum/imgflow/kafka/producer"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/notify"
	"github.com/kbukum/imgflow/observability"
	"github.com/kbukum/imgflow/router"
	"github.com/kbukum/imgflow/server"
	"github.com/kbukum/imgflow/server/endpoint"
	"github.com/kbukum/imgflow/server/middleware"
	"github.com/kbukum/imgflow/stage"
	"github.com/kbukum/imgflow/storage"
	"github.com/kbukum/imgflow/transform"
	"github.com/kbukum/imgflow/worker"

	// Storage providers register their factories on import.
	_ "github.com/kbukum/imgflow/storage/gcs"
	_ "github.com/kbukum/imgflow/storage/local"
	_ "github.com/kbukum/imgflow/storage/memory"
	_ "github.com/kbukum/imgflow/storage/s3"
)

// Option overrides a collaborator that Build would otherwise create from
// configuration.
type Option func(*options)

type options struct {
	working, output storage.Storage
	publisher       bus.Publisher
	subscriber      bus.Subscriber
	transformer     transform.Transformer
	notifier        notify.Notifier
	routerOpts      []router.Option
}

// WithStores uses the given working and output stores.
func WithStores(working, output storage.Storage) Option {
	return func(o *options) { o.working, o.output = working, output }
}

// WithBus uses the given transport instead of the configured driver.
func WithBus(pub bus.Publisher, sub bus.Subscriber) Option {
	return func(o *options) { o.publisher, o.subscriber = pub, sub }
}

// WithTransformer replaces the imaging transformer.
func WithTransformer(t transform.Transformer) Option {
	return func(o *options) { o.transformer = t }
}

// WithNotifier replaces the webhook notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithRouterOptions appends router options, applied after the configured ones.
func WithRouterOptions(opts ...router.Option) Option {
	return func(o *options) { o.routerOpts = append(o.routerOpts, opts...) }
}

// Pipeline holds every collaborator of an imgflow process. Which parts are
// used depends on the command: serve uses the API and, on the memory bus, the
// runners; worker uses only runners.
type Pipeline struct {
	cfg *Config
	log *logger.Logger

	Registry *stage.Registry
	Router   *router.Router
	Ingress  *ingress.Dispatcher
	Outputs  *completion.Reader
	Metrics  *observability.Metrics

	working, output storage.Storage
	workingBytes    storage.ByteClient
	outputBytes     storage.ByteClient
	publisher       bus.Publisher
	subscriber      bus.Subscriber
	transformer     transform.Transformer
	notifier        notify.Notifier

	components []component.Component
}

// Build wires the pipeline from cfg. Defaults are applied and the config is
// validated first.
func Build(ctx context.Context, cfg *Config, log *logger.Logger, opts ...Option) (*Pipeline, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	p := &Pipeline{cfg: cfg, log: log}

	registry, err := stage.FromConfig(cfg.Pipeline.Table)
	if err != nil {
		return nil, err
	}
	p.Registry = registry

	if err := p.buildStores(ctx, o); err != nil {
		return nil, err
	}
	if err := p.buildBus(o); err != nil {
		return nil, err
	}

	p.Metrics, err = observability.NewDefaultMetrics(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	routerOpts := append([]router.Option{
		router.WithTimeout(cfg.Pipeline.Routing.Timeout()),
		router.WithMetrics(p.Metrics),
		router.WithLogger(log),
	}, o.routerOpts...)
	p.Router = router.New(registry, p.publisher, routerOpts...)

	p.Ingress, err = ingress.New(cfg.Pipeline.Ingress, registry, p.Router, p.workingBytes,
		ingress.WithLogger(log), ingress.WithMetrics(p.Metrics))
	if err != nil {
		return nil, err
	}

	p.Outputs, err = completion.NewReader(p.output, cfg.Completion, log)
	if err != nil {
		return nil, err
	}

	p.transformer = o.transformer
	if p.transformer == nil {
		p.transformer = transform.NewImaging()
	}
	p.notifier = o.notifier
	if p.notifier == nil {
		wh, err := notify.NewWebhook(cfg.Notify, log)
		if err != nil {
			return nil, err
		}
		p.notifier = wh
	}
	return p, nil
}

func (p *Pipeline) buildStores(ctx context.Context, o *options) error {
	if o.working != nil && o.output != nil {
		p.working, p.output = o.working, o.output
	} else {
		var err error
		if p.working, err = openStore(ctx, &p.cfg.Storage.Working, p.log); err != nil {
			return err
		}
		if p.output, err = openStore(ctx, &p.cfg.Storage.Output, p.log); err != nil {
			return err
		}
	}
	p.workingBytes = storage.NewByteClient(p.working, storage.WithMaxSize(p.cfg.Storage.Working.MaxBytes()))
	p.outputBytes = storage.NewByteClient(p.output, storage.WithMaxSize(p.cfg.Storage.Output.MaxBytes()))
	p.components = append(p.components,
		storage.NewComponent(p.cfg.Storage.Working.Config, p.working, p.log),
		storage.NewComponent(p.cfg.Storage.Output.Config, p.output, p.log),
	)
	return nil
}

func openStore(ctx context.Context, sc *StoreConfig, log *logger.Logger) (storage.Storage, error) {
	return storage.Open(ctx, sc.Config, sc.ProviderConfig(), log)
}

func (p *Pipeline) buildBus(o *options) error {
	if o.publisher != nil && o.subscriber != nil {
		p.publisher, p.subscriber = o.publisher, o.subscriber
		return nil
	}
	switch p.cfg.Bus.Driver {
	case BusKafka:
		pcfg := p.cfg.Kafka
		pcfg.BoundWrites(p.cfg.Pipeline.Routing.Timeout())
		prod, err := producer.New(pcfg, p.log)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		p.components = append(p.components, kafka.NewComponent(p.cfg.Kafka, prod, p.log))
		p.publisher = prod
		p.subscriber = consumer.NewSubscriber(p.cfg.Kafka, p.log)
	default:
		m := bus.NewMemory(p.cfg.Bus.QueueSize, p.log)
		p.publisher, p.subscriber = m, m
	}
	return nil
}

// Config returns the validated configuration.
func (p *Pipeline) Config() *Config { return p.cfg }

// Components returns the infrastructure components to register: both stores
// and, on the kafka driver, the producer owner.
func (p *Pipeline) Components() []component.Component {
	return append([]component.Component(nil), p.components...)
}

// Publisher returns the transport messages are published to.
func (p *Pipeline) Publisher() bus.Publisher { return p.publisher }

// Worker creates the worker for kind.
func (p *Pipeline) Worker(kind string) (*worker.Worker, error) {
	return worker.New(kind, worker.Deps{
		Registry:      p.Registry,
		Router:        p.Router,
		Transformer:   p.transformer,
		Working:       p.workingBytes,
		Output:        p.outputBytes,
		Notifier:      p.notifier,
		Metrics:       p.Metrics,
		Logger:        p.log,
		NotifyTimeout: p.cfg.Notify.GetTimeout(),
		ServiceName:   p.cfg.Name,
	})
}

// Runners creates one Runner per kind. No kinds means every registered stage.
// Each stage consumes in its own group so that every stage sees every message
// of its topic exactly once across replicas.
func (p *Pipeline) Runners(kinds ...string) ([]*worker.Runner, error) {
	if len(kinds) == 0 {
		kinds = p.Registry.Kinds()
	}
	seen := make(map[string]bool, len(kinds))
	runners := make([]*worker.Runner, 0, len(kinds))
	for _, kind := range kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		w, err := p.Worker(kind)
		if err != nil {
			return nil, err
		}
		runners = append(runners, worker.NewRunner(w, p.subscriber, p.Group(kind), p.log))
	}
	return runners, nil
}

// Group returns the consumer group of kind.
func (p *Pipeline) Group(kind string) string {
	return p.cfg.Kafka.Group(kind)
}

// API creates the HTTP handler.
func (p *Pipeline) API() (*api.Handler, error) {
	return api.New(p.cfg.API, p.Ingress, p.Outputs, p.Registry, p.log)
}

// Server creates the HTTP server with the API and the default endpoints
// mounted. checker reports the health of the process's components.
func (p *Pipeline) Server(checker endpoint.HealthChecker) (*server.Server, error) {
	h, err := p.API()
	if err != nil {
		return nil, err
	}
	s := server.New(p.cfg.Server, p.log)
	s.ApplyDefaults(p.cfg.Name, checker)
	s.GinEngine().Use(middleware.Metrics(p.Metrics, p.cfg.Name))
	h.Register(s.GinEngine())
	return s, nil
}

// Close releases the transport when it is the in-memory bus. Kafka resources
// are closed by their component.
func (p *Pipeline) Close(_ context.Context) error {
	if m, ok := p.publisher.(*bus.Memory); ok {
		return m.Close()
	}
	return nil
}
