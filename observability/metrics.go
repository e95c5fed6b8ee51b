package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricRequests        = "http.server.requests"
	MetricRequestDuration = "http.server.duration"
	MetricRequestsActive  = "http.server.active"
	MetricHops            = "pipeline.hops"
	MetricHopDuration     = "pipeline.hop.duration"
	MetricPublishes       = "pipeline.publishes"
	MetricPublishWait     = "pipeline.publish.wait"
	MetricErrors          = "errors"
)

// Metrics holds the instruments of the HTTP surface and the pipeline. All
// methods are safe on a nil *Metrics.
type Metrics struct {
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestsActive  metric.Int64UpDownCounter
	hops            metric.Int64Counter
	hopDuration     metric.Float64Histogram
	publishes       metric.Int64Counter
	publishWait     metric.Float64Histogram
	errors          metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}

	m := &Metrics{
		requests:        counter(MetricRequests, "HTTP requests by route and status"),
		requestDuration: seconds(MetricRequestDuration, "HTTP request latency"),
		hops:            counter(MetricHops, "Stage hops by stage and outcome"),
		hopDuration:     seconds(MetricHopDuration, "Stage hop latency"),
		publishes:       counter(MetricPublishes, "Bus publishes by topic and outcome"),
		publishWait:     seconds(MetricPublishWait, "Time spent waiting for a bus acknowledgement"),
		errors:          counter(MetricErrors, "Errors by code and component"),
	}
	var err error
	m.requestsActive, err = meter.Int64UpDownCounter(MetricRequestsActive, metric.WithDescription("In-flight HTTP requests"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// NewDefaultMetrics creates the instruments on the global meter provider,
// which only exports once Init enabled it.
func NewDefaultMetrics(service string) (*Metrics, error) {
	return NewMetrics(otel.Meter(service))
}

// RecordRequestStart counts a request as in flight.
func (m *Metrics) RecordRequestStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.requestsActive.Add(ctx, 1)
}

// RecordRequestEnd closes a request opened by RecordRequestStart. route is
// the route template, never the raw path.
func (m *Metrics) RecordRequestEnd(ctx context.Context, service, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsActive.Add(ctx, -1)
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("route", route),
		attribute.String("status", status),
	))
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("route", route),
	))
}

// RecordHop counts one hop of stage and records how long it took.
func (m *Metrics) RecordHop(ctx context.Context, stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.hops.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStage, stage), attribute.String(AttrOutcome, outcome)))
	m.hopDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(AttrStage, stage)))
}

// RecordPublish counts one publish to topic and records the acknowledgement wait.
func (m *Metrics) RecordPublish(ctx context.Context, topic, outcome string, wait time.Duration) {
	if m == nil {
		return
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTopic, topic), attribute.String(AttrOutcome, outcome)))
	m.publishWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String(AttrTopic, topic)))
}

// RecordError counts an error by code and the component that raised it.
func (m *Metrics) RecordError(ctx context.Context, code, component string) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code), attribute.String("component", component)))
}
