package router

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/imgflow/bus"
	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/kafka"
	"github.com/kbukum/imgflow/kafka/producer"
	"github.com/kbukum/imgflow/kafka/testutil"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/message"
	"github.com/kbukum/imgflow/stage"
)

// recordingPublisher counts calls and returns a scripted error.
type recordingPublisher struct {
	calls int
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, _, _ string, _ []byte, _ map[string]string) error {
	p.calls++
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func testMessage(next ...string) message.Message {
	if next == nil {
		next = []string{}
	}
	return message.Message{ImageIdentifier: "dog_gray123.jpg", Next: next, OutputFolder: "dog_augmented"}
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Timeout() != 60*time.Second {
		t.Fatalf("default timeout = %s, want 60s", cfg.Timeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, bad := range []string{"soon", "0s", "-1s"} {
		c := Config{PublishTimeout: bad}
		if err := c.Validate(); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestDispatch_PublishesToStageTopic(t *testing.T) {
	mem := bus.NewMemory(8, logger.NewNop())
	r := New(stage.Default(""), mem, WithLogger(logger.NewNop()))

	res, err := r.Dispatch(context.Background(), stage.Flip, testMessage())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != Published {
		t.Errorf("outcome = %s, want published", res.Outcome)
	}
	if res.Topic != "imgflow.flip" {
		t.Errorf("topic = %s", res.Topic)
	}

	got := mem.Published("imgflow.flip")
	if len(got) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(got))
	}
	d := got[0]
	if d.Key != "dog_gray123.jpg" {
		t.Errorf("key = %q, want image identifier", d.Key)
	}
	if d.Headers[bus.HeaderContentType] != ContentTypeJSON {
		t.Errorf("content-type = %q", d.Headers[bus.HeaderContentType])
	}
	if d.Headers[bus.HeaderStage] != stage.Flip {
		t.Errorf("stage header = %q", d.Headers[bus.HeaderStage])
	}
	if d.Headers[bus.HeaderMessageID] != res.MessageID || res.MessageID == "" {
		t.Errorf("message id header %q does not match result %q", d.Headers[bus.HeaderMessageID], res.MessageID)
	}

	decoded, err := message.Decode(d.Value)
	if err != nil {
		t.Fatalf("published payload does not decode: %v", err)
	}
	if decoded.ImageIdentifier != "dog_gray123.jpg" || !decoded.IsTerminal() {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestDispatch_UnknownStageDoesNotPublish(t *testing.T) {
	pub := &recordingPublisher{}
	r := New(stage.Default(""), pub)

	_, err := r.Dispatch(context.Background(), "sepia", testMessage())
	if !apperrors.HasCode(err, apperrors.ErrCodeUnknownStage) {
		t.Fatalf("expected UNKNOWN_STAGE, got %v", err)
	}
	if pub.calls != 0 {
		t.Fatalf("expected no publish, got %d", pub.calls)
	}
}

func TestDispatch_MalformedDoesNotPublish(t *testing.T) {
	pub := &recordingPublisher{}
	r := New(stage.Default(""), pub)

	_, err := r.Dispatch(context.Background(), stage.Flip, message.Message{OutputFolder: "f"})
	if !apperrors.HasCode(err, apperrors.ErrCodeMalformedMessage) {
		t.Fatalf("expected MALFORMED_MESSAGE, got %v", err)
	}
	if pub.calls != 0 {
		t.Fatalf("expected no publish, got %d", pub.calls)
	}
}

func TestDispatch_TimeoutWithBlockedBus(t *testing.T) {
	mem := bus.NewMemory(1, logger.NewNop())
	r := New(stage.Default(""), mem, WithTimeout(30*time.Millisecond))
	ctx := context.Background()

	if _, err := r.Dispatch(ctx, stage.Flip, testMessage()); err != nil {
		t.Fatalf("first dispatch should fit in the queue: %v", err)
	}

	start := time.Now()
	res, err := r.Dispatch(ctx, stage.Flip, testMessage())
	elapsed := time.Since(start)

	if !apperrors.HasCode(err, apperrors.ErrCodePublishTimeout) {
		t.Fatalf("expected PUBLISH_TIMEOUT, got %v", err)
	}
	if res.Outcome != PublishTimeout {
		t.Errorf("outcome = %s, want publish_timeout", res.Outcome)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("dispatch returned after %s, before the bound", elapsed)
	}
	if len(mem.Published("imgflow.flip")) != 1 {
		t.Errorf("timed-out message must not be recorded as published")
	}
}

func TestDispatch_TimeoutWithHangingProducer(t *testing.T) {
	prod := testutil.NewMockProducer()
	prod.Hang()
	r := New(stage.Default(""), prod, WithTimeout(20*time.Millisecond))

	res, err := r.Dispatch(context.Background(), stage.Grayscale, testMessage("flip"))
	if !apperrors.HasCode(err, apperrors.ErrCodePublishTimeout) {
		t.Fatalf("expected PUBLISH_TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("timeout should unwrap to context.DeadlineExceeded")
	}
	if res.Topic != "imgflow.grayscale" {
		t.Errorf("topic = %s", res.Topic)
	}
}

func TestDispatch_PublishFailedPassesThrough(t *testing.T) {
	prod := testutil.NewMockProducer()
	prod.FailWith(io.ErrUnexpectedEOF)
	r := New(stage.Default(""), prod)

	res, err := r.Dispatch(context.Background(), stage.Sharpen, testMessage())
	if !apperrors.HasCode(err, apperrors.ErrCodePublishFailed) {
		t.Fatalf("expected PUBLISH_FAILED, got %v", err)
	}
	if res.Outcome != PublishFailed {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if len(prod.Messages()) != 0 {
		t.Error("failed publish should not be recorded")
	}
}

func TestDispatch_WrapsForeignErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("socket closed")}
	r := New(stage.Default(""), pub)

	_, err := r.Dispatch(context.Background(), stage.Flip, testMessage())
	if !apperrors.HasCode(err, apperrors.ErrCodePublishFailed) {
		t.Fatalf("expected PUBLISH_FAILED, got %v", err)
	}
	appErr, _ := apperrors.AsAppError(err)
	if appErr.Details["topic"] != "imgflow.flip" {
		t.Errorf("expected topic detail, got %v", appErr.Details)
	}
}

func TestDispatch_SingleAttempt(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("transient")}
	r := New(stage.Default(""), pub)

	_, _ = r.Dispatch(context.Background(), stage.Flip, testMessage())
	if pub.calls != 1 {
		t.Fatalf("expected exactly one publish attempt, got %d", pub.calls)
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	r := New(stage.Default(""), &recordingPublisher{}, WithTimeout(0))
	if r.Timeout() != DefaultPublishTimeout {
		t.Fatalf("timeout = %s, want default", r.Timeout())
	}
}

// unansweredBroker accepts Kafka connections and never replies.
func unansweredBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestDispatch_UnansweredKafkaBroker(t *testing.T) {
	const wait = 400 * time.Millisecond
	cfg := kafka.Config{Enabled: true, Brokers: []string{unansweredBroker(t)}}
	cfg.Producer.WriteTimeout = "100ms"
	cfg.BoundWrites(wait)
	prod, err := producer.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer prod.Close()
	r := New(stage.Default(""), prod, WithTimeout(wait))

	start := time.Now()
	res, err := r.Dispatch(context.Background(), stage.Flip, testMessage())
	elapsed := time.Since(start)

	if !apperrors.HasCode(err, apperrors.ErrCodePublishTimeout) {
		t.Fatalf("Dispatch() = %v, want PUBLISH_TIMEOUT", err)
	}
	if res.Outcome != PublishTimeout {
		t.Errorf("outcome = %s, want publish_timeout", res.Outcome)
	}
	if elapsed < wait-50*time.Millisecond {
		t.Errorf("dispatch gave up after %s, before the %s publish timeout", elapsed, wait)
	}
	if elapsed > wait+time.Second {
		t.Errorf("dispatch returned after %s, well past the %s publish timeout", elapsed, wait)
	}
}
