package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() = %v", err)
	}
	return m, reader
}

// counts sums the int64 counter name per value of attribute key.
func counts(t *testing.T, reader *sdkmetric.ManualReader, name, key string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(key))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Endpoint != "localhost:4318" || cfg.SampleRate != 1 || cfg.interval() != 15*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"half sampling", func(c *Config) { c.SampleRate = 0.5 }, true},
		{"rate above one", func(c *Config) { c.SampleRate = 2 }, false},
		{"negative rate", func(c *Config) { c.SampleRate = -0.1 }, false},
		{"bad interval", func(c *Config) { c.MetricInterval = "soon" }, false},
		{"zero interval", func(c *Config) { c.MetricInterval = "0s" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := cfg
			tc.mutate(&c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{3, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range tests {
		if got := sampler(tc.rate).Description(); got != tc.want {
			t.Errorf("sampler(%v) = %q, want %q", tc.rate, got, tc.want)
		}
	}
}

func TestInit_Disabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	shutdown, err := Init(context.Background(), Config{}, Build{Service: "imgflow"})
	if err != nil {
		t.Fatalf("Init() = %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Error("disabled Init must not replace the global tracer provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() = %v", err)
	}
}

func TestInit_InvalidConfig(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: true, SampleRate: -1}, Build{Service: "imgflow"})
	if err == nil {
		t.Fatal("Init() should reject a negative sample rate")
	}
	if shutdown == nil || shutdown(context.Background()) != nil {
		t.Error("shutdown must be callable after a failed Init")
	}
}

func TestInit_ExportsToCollector(t *testing.T) {
	var hits atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	prevT, prevM := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevT)
		otel.SetMeterProvider(prevM)
	})

	cfg := Config{Enabled: true, Endpoint: strings.TrimPrefix(collector.URL, "http://"), Insecure: true}
	shutdown, err := Init(context.Background(), cfg, Build{Service: "imgflow", Version: "test", Environment: "development"})
	if err != nil {
		t.Fatalf("Init() = %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("global tracer provider is %T", otel.GetTracerProvider())
	}

	m, err := NewDefaultMetrics("imgflow")
	if err != nil {
		t.Fatal(err)
	}
	_, span := StartSpan(context.Background(), SpanSubmitRun)
	span.End()
	m.RecordError(context.Background(), "INTERNAL_ERROR", "test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() = %v", err)
	}
	if hits.Load() == 0 {
		t.Error("collector received nothing")
	}
}

func TestMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHop(ctx, "flip", "advanced", 20*time.Millisecond)
	m.RecordHop(ctx, "flip", "terminal", 10*time.Millisecond)
	m.RecordHop(ctx, "grayscale", "advanced", time.Millisecond)
	if got := counts(t, reader, MetricHops, AttrOutcome); got["advanced"] != 2 || got["terminal"] != 1 {
		t.Errorf("hops by outcome = %v", got)
	}

	m.RecordPublish(ctx, "imgflow.flip", "published", time.Millisecond)
	m.RecordPublish(ctx, "imgflow.flip", "publish_timeout", time.Minute)
	if got := counts(t, reader, MetricPublishes, AttrTopic); got["imgflow.flip"] != 2 {
		t.Errorf("publishes by topic = %v", got)
	}

	m.RecordRequestStart(ctx)
	m.RecordRequestEnd(ctx, "imgflow", "POST /api/v1/runs", "202", time.Millisecond)
	if got := counts(t, reader, MetricRequests, "route"); got["POST /api/v1/runs"] != 1 {
		t.Errorf("requests by route = %v", got)
	}

	m.RecordError(ctx, "PUBLISH_TIMEOUT", "router")
	if got := counts(t, reader, MetricErrors, "component"); got["router"] != 1 {
		t.Errorf("errors by component = %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordRequestStart(ctx)
	m.RecordRequestEnd(ctx, "imgflow", "GET /", "200", time.Millisecond)
	m.RecordHop(ctx, "flip", "advanced", time.Millisecond)
	m.RecordPublish(ctx, "imgflow.flip", "published", time.Millisecond)
	m.RecordError(ctx, "INTERNAL_ERROR", "test")
}

func TestEndSpan(t *testing.T) {
	rec := recordSpans(t)

	_, ok := StartSpan(context.Background(), SpanListOutputs, attribute.String("output_folder", "cat_augmented"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), SpanPublish)
	EndSpan(failed, errors.New("broker down"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	if spans[0].Status().Code != codes.Unset || len(spans[0].Attributes()) != 1 {
		t.Errorf("ok span: status %v attrs %v", spans[0].Status(), spans[0].Attributes())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "broker down" {
		t.Errorf("failed span status = %v", spans[1].Status())
	}
	if len(spans[1].Events()) != 1 {
		t.Errorf("failed span should carry the error event, got %d events", len(spans[1].Events()))
	}
}

func TestHop(t *testing.T) {
	rec := recordSpans(t)
	m, reader := newTestMetrics(t)

	ctx, hop := StartHop(context.Background(), "imgflow", "sharpen", "cat.jpg", "msg-1", m)
	if !hop.span.SpanContext().Equal(spanContext(ctx)) {
		t.Error("returned context should carry the hop span")
	}
	if d := hop.End(ctx, "terminal", nil); d < 0 {
		t.Errorf("duration = %v", d)
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != SpanPipelineHop {
		t.Fatalf("spans = %v", spans)
	}
	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	for k, want := range map[attribute.Key]string{
		AttrStage:     "sharpen",
		AttrImage:     "cat.jpg",
		AttrMessageID: "msg-1",
		AttrOutcome:   "terminal",
	} {
		if attrs[k] != want {
			t.Errorf("attribute %s = %q, want %q", k, attrs[k], want)
		}
	}
	if got := counts(t, reader, MetricHops, AttrStage); got["sharpen"] != 1 {
		t.Errorf("hops by stage = %v", got)
	}

	// Without metrics or message id.
	_, bare := StartHop(context.Background(), "imgflow", "flip", "dog.png", "", nil)
	bare.End(context.Background(), "failed", errors.New("decode"))
	if last := rec.Ended()[1]; last.Status().Code != codes.Error {
		t.Errorf("failed hop status = %v", last.Status())
	}
}

func spanContext(ctx context.Context) trace.SpanContext {
	return trace.SpanContextFromContext(ctx)
}
