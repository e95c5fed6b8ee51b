package worker_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/imgflow/bus"
	"github.com/kbukum/imgflow/component"
	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/message"
	"github.com/kbukum/imgflow/notify"
	"github.com/kbukum/imgflow/router"
	"github.com/kbukum/imgflow/stage"
	"github.com/kbukum/imgflow/storage"
	"github.com/kbukum/imgflow/storage/memory"
	"github.com/kbukum/imgflow/transform"
	"github.com/kbukum/imgflow/worker"
)

// recordingRouter records dispatches and answers with err.
type recordingRouter struct {
	mu    sync.Mutex
	kinds []string
	msgs  []message.Message
	err   error
}

func (r *recordingRouter) Dispatch(_ context.Context, kind string, msg message.Message) (router.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.msgs = append(r.msgs, msg)
	if r.err != nil {
		return router.Result{Kind: kind, Outcome: router.PublishTimeout}, r.err
	}
	return router.Result{Kind: kind, Topic: "imgflow." + kind, Outcome: router.Published}, nil
}

// tagTransformer appends the stage kind to the input.
type tagTransformer struct{ err error }

func (t tagTransformer) Transform(_ context.Context, img []byte, kind string, _ stage.Params) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return append(append([]byte{}, img...), []byte("+"+kind)...), nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Completion
	err error
}

func (n *recordingNotifier) Notify(_ context.Context, c notify.Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, c)
	return n.err
}

type fixture struct {
	working  *memory.Storage
	output   *memory.Storage
	router   *recordingRouter
	notifier *recordingNotifier
	deps     worker.Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		working:  memory.New("working"),
		output:   memory.New("output"),
		router:   &recordingRouter{},
		notifier: &recordingNotifier{},
	}
	f.deps = worker.Deps{
		Registry:    stage.Default(""),
		Router:      f.router,
		Transformer: tagTransformer{},
		Working:     storage.NewByteClient(f.working),
		Output:      storage.NewByteClient(f.output),
		Notifier:    f.notifier,
		Logger:      logger.NewNop(),
		Token:       func() int { return 7 },
	}
	if err := f.working.Upload(context.Background(), "cat.jpg", bytes.NewReader([]byte("cat"))); err != nil {
		t.Fatalf("seed working store: %v", err)
	}
	return f
}

func (f *fixture) worker(t *testing.T, kind string) *worker.Worker {
	t.Helper()
	w, err := worker.New(kind, f.deps)
	if err != nil {
		t.Fatalf("New(%s) error: %v", kind, err)
	}
	return w
}

func encode(t *testing.T, m message.Message) []byte {
	t.Helper()
	data, err := message.Encode(m)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	return data
}

func read(t *testing.T, s *memory.Storage, key string) string {
	t.Helper()
	data, err := storage.NewByteClient(s).Download(context.Background(), key)
	if err != nil {
		t.Fatalf("Download(%s) error: %v", key, err)
	}
	return string(data)
}

func count(t *testing.T, s *memory.Storage) int {
	t.Helper()
	files, err := s.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	return len(files)
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		source, suffix string
		token          int
		want           string
	}{
		{"cat.jpg", "_gray", 7, "cat_gray007.jpg"},
		{"dog_gray042.jpg", "_flip", 5, "dog_gray042_flip005.jpg"},
		{"nested/x.png", "_sharp", 999, "x_sharp999.png"},
		{"raw", "_gb", 1, "raw_gb001"},
		{"a.b.jpeg", "_temp", 1234, "a.b_temp234.jpeg"},
		{"cat.jpg", "_bright", -3, "cat_bright003.jpg"},
	}
	for _, tt := range tests {
		if got := worker.OutputName(tt.source, tt.suffix, tt.token); got != tt.want {
			t.Errorf("OutputName(%q, %q, %d) = %q, want %q", tt.source, tt.suffix, tt.token, got, tt.want)
		}
	}
}

func TestOutputName_Disambiguates(t *testing.T) {
	if worker.OutputName("cat.jpg", "_gray", 1) == worker.OutputName("cat.jpg", "_gray", 2) {
		t.Error("distinct tokens produced the same name")
	}
	if worker.OutputName("cat.jpg", "_gray", 5) != worker.OutputName("cat.jpg", "_gray", 1005) {
		t.Error("tokens are taken modulo the token space")
	}
	for i := 0; i < 100; i++ {
		if tok := worker.RandomToken(); tok < 0 || tok >= worker.TokenSpace {
			t.Fatalf("RandomToken() = %d, out of range", tok)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)

	if _, err := worker.New("sepia", f.deps); !apperrors.HasCode(err, apperrors.ErrCodeUnknownStage) {
		t.Errorf("New(sepia) error = %v, want UNKNOWN_STAGE", err)
	}

	missing := []func(d *worker.Deps){
		func(d *worker.Deps) { d.Registry = nil },
		func(d *worker.Deps) { d.Router = nil },
		func(d *worker.Deps) { d.Transformer = nil },
		func(d *worker.Deps) { d.Working = nil },
		func(d *worker.Deps) { d.Output = nil },
	}
	for i, mutate := range missing {
		d := f.deps
		mutate(&d)
		if _, err := worker.New(stage.Grayscale, d); err == nil {
			t.Errorf("case %d: New() should fail", i)
		}
	}
}

func TestHandle_TerminalHop(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, stage.Grayscale)

	report, err := w.Handle(context.Background(), encode(t, message.Message{
		ImageIdentifier: "cat.jpg",
		OutputFolder:    "cat_augmented",
	}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	if report.State != worker.StateDone || !report.Terminal {
		t.Errorf("report = %+v, want terminal DONE", report)
	}
	if report.OutputKey != "cat_augmented/cat_gray007.jpg" {
		t.Errorf("OutputKey = %q", report.OutputKey)
	}
	if got := read(t, f.output, "cat_augmented/cat_gray007.jpg"); got != "cat+grayscale" {
		t.Errorf("output content = %q", got)
	}
	if n := count(t, f.working); n != 1 {
		t.Errorf("working store has %d objects, want only the source", n)
	}
	if len(f.router.kinds) != 0 {
		t.Errorf("terminal hop dispatched %v", f.router.kinds)
	}
	if len(f.notifier.got) != 0 || report.Notified {
		t.Error("notified without a callback")
	}
}

func TestHandle_SameStageTwiceInOneRun(t *testing.T) {
	tests := []struct {
		name   string
		tokens []int
		want   int
	}{
		{"distinct tokens keep both outputs", []int{7, 8}, 2},
		{"equal tokens overwrite", []int{7, 7}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			next := 0
			f.deps.Token = func() int {
				tok := tc.tokens[next]
				next++
				return tok
			}
			w := f.worker(t, stage.Grayscale)

			payload := encode(t, message.Message{ImageIdentifier: "cat.jpg", OutputFolder: "cat_augmented"})
			keys := map[string]bool{}
			for range tc.tokens {
				report, err := w.Handle(context.Background(), payload)
				if err != nil {
					t.Fatalf("Handle() error: %v", err)
				}
				keys[report.OutputKey] = true
			}

			files, err := f.output.List(context.Background(), "cat_augmented/")
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if len(files) != tc.want || len(keys) != tc.want {
				t.Errorf("terminal objects = %d, distinct keys = %d, want %d", len(files), len(keys), tc.want)
			}
		})
	}
}

func TestHandle_TerminalHopNotifies(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, stage.Flip)
	cb := "http://example.test/done"

	report, err := w.Handle(context.Background(), encode(t, message.Message{
		ImageIdentifier: "cat.jpg",
		OutputFolder:    "cat_augmented",
		Callback:        &cb,
	}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if !report.Notified || report.NotifyErr != nil {
		t.Fatalf("Notified = %v, NotifyErr = %v", report.Notified, report.NotifyErr)
	}
	if len(f.notifier.got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.got))
	}
	c := f.notifier.got[0]
	if c.Callback != cb || c.Stage != stage.Flip || c.Source != "cat.jpg" ||
		c.OutputKey != "cat_augmented/cat_flip007.jpg" || c.Location != "mem://output/cat_augmented/cat_flip007.jpg" {
		t.Errorf("completion = %+v", c)
	}
}

func TestHandle_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("connection refused")
	w := f.worker(t, stage.Flip)
	cb := "http://example.test/done"

	report, err := w.Handle(context.Background(), encode(t, message.Message{
		ImageIdentifier: "cat.jpg",
		OutputFolder:    "cat_augmented",
		Callback:        &cb,
	}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if report.Notified || report.NotifyErr == nil {
		t.Errorf("Notified = %v, NotifyErr = %v", report.Notified, report.NotifyErr)
	}
	if report.State != worker.StateDone {
		t.Errorf("State = %s, want DONE", report.State)
	}
	if n := count(t, f.output); n != 1 {
		t.Errorf("output objects = %d, want 1", n)
	}
}

func TestHandle_AdvancingHop(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, stage.Grayscale)
	cb := "http://example.test/done"

	report, err := w.Handle(context.Background(), encode(t, message.Message{
		ImageIdentifier: "cat.jpg",
		Next:            []string{stage.Flip, stage.Sharpen},
		OutputFolder:    "cat_augmented",
		Callback:        &cb,
	}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	if report.State != worker.StateDone || report.Terminal {
		t.Errorf("report = %+v, want non-terminal DONE", report)
	}
	if report.OutputKey != "cat_gray007.jpg" {
		t.Errorf("OutputKey = %q", report.OutputKey)
	}
	if got := read(t, f.working, "cat_gray007.jpg"); got != "cat+grayscale" {
		t.Errorf("working content = %q", got)
	}
	if n := count(t, f.output); n != 0 {
		t.Errorf("non-terminal hop wrote %d output objects", n)
	}

	if len(f.router.kinds) != 1 || f.router.kinds[0] != stage.Flip {
		t.Fatalf("dispatched kinds = %v, want [flip]", f.router.kinds)
	}
	next := f.router.msgs[0]
	if next.ImageIdentifier != "cat_gray007.jpg" || next.OutputFolder != "cat_augmented" ||
		next.CallbackURL() != cb || len(next.Next) != 1 || next.Next[0] != stage.Sharpen {
		t.Errorf("advance message = %+v", next)
	}
	if report.NextStage != stage.Flip || len(report.Remaining) != 1 {
		t.Errorf("NextStage = %q, Remaining = %v", report.NextStage, report.Remaining)
	}
	if len(f.notifier.got) != 0 {
		t.Error("non-terminal hop notified")
	}
}

func TestHandle_PublishTimeoutStallsRun(t *testing.T) {
	f := newFixture(t)
	f.router.err = apperrors.PublishTimeout("imgflow.flip", time.Second)
	w := f.worker(t, stage.Grayscale)

	report, err := w.Handle(context.Background(), encode(t, message.Message{
		ImageIdentifier: "cat.jpg",
		Next:            []string{stage.Flip},
		OutputFolder:    "cat_augmented",
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v, a publish failure must not fail the hop", err)
	}
	if !report.Stalled() || !apperrors.HasCode(report.DispatchErr, apperrors.ErrCodePublishTimeout) {
		t.Errorf("DispatchErr = %v, want PUBLISH_TIMEOUT", report.DispatchErr)
	}
	if report.State != worker.StateDone {
		t.Errorf("State = %s, want DONE", report.State)
	}
	if report.Dispatch == nil || report.Dispatch.Outcome != router.PublishTimeout {
		t.Errorf("Dispatch = %+v", report.Dispatch)
	}
	if got := read(t, f.working, "cat_gray007.jpg"); got != "cat+grayscale" {
		t.Errorf("written object should persist, got %q", got)
	}
}

func TestHandle_FatalErrors(t *testing.T) {
	tests := []struct {
		name      string
		payload   func(t *testing.T) []byte
		transform error
		code      apperrors.ErrorCode
		state     worker.State
	}{
		{
			name:    "malformed payload",
			payload: func(*testing.T) []byte { return []byte(`{"image_identifier":"cat.jpg"}`) },
			code:    apperrors.ErrCodeMalformedMessage,
			state:   worker.StateReceived,
		},
		{
			name: "unknown queued stage",
			payload: func(t *testing.T) []byte {
				return encode(t, message.Message{ImageIdentifier: "cat.jpg", Next: []string{"flip", "sepia"}, OutputFolder: "o"})
			},
			code:  apperrors.ErrCodeUnknownStage,
			state: worker.StateReceived,
		},
		{
			name: "missing source",
			payload: func(t *testing.T) []byte {
				return encode(t, message.Message{ImageIdentifier: "ghost.jpg", OutputFolder: "o"})
			},
			code:  apperrors.ErrCodeStoreUnavailable,
			state: worker.StateFetching,
		},
		{
			name: "transform failure",
			payload: func(t *testing.T) []byte {
				return encode(t, message.Message{ImageIdentifier: "cat.jpg", OutputFolder: "o"})
			},
			transform: errors.New("corrupt image"),
			code:      apperrors.ErrCodeTransformFailed,
			state:     worker.StateTransforming,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.deps.Transformer = tagTransformer{err: tt.transform}
			w := f.worker(t, stage.Grayscale)

			report, err := w.Handle(context.Background(), tt.payload(t))
			if !apperrors.HasCode(err, tt.code) {
				t.Fatalf("Handle() error = %v, want %s", err, tt.code)
			}
			if report.State != tt.state {
				t.Errorf("State = %s, want %s", report.State, tt.state)
			}
			if n := count(t, f.output); n != 0 {
				t.Errorf("output objects = %d, want 0", n)
			}
			if n := count(t, f.working); n != 1 {
				t.Errorf("working objects = %d, want only the source", n)
			}
			if len(f.router.kinds) != 0 {
				t.Errorf("failed hop dispatched %v", f.router.kinds)
			}
		})
	}
}

func TestHandle_MissingSourceDetail(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, stage.Grayscale)

	_, err := w.Handle(context.Background(), encode(t, message.Message{ImageIdentifier: "ghost.jpg", OutputFolder: "o"}))
	ae, ok := apperrors.AsAppError(err)
	if !ok {
		t.Fatalf("error %v is not an AppError", err)
	}
	if ae.Details["missing"] != true {
		t.Errorf("details = %v, want missing=true", ae.Details)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Error("error should wrap storage.ErrNotFound")
	}
}

func TestHandle_StoreWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.deps.Output = failingStore{ByteClient: storage.NewByteClient(f.output)}
	w := f.worker(t, stage.Grayscale)

	report, err := w.Handle(context.Background(), encode(t, message.Message{ImageIdentifier: "cat.jpg", OutputFolder: "o"}))
	if !apperrors.HasCode(err, apperrors.ErrCodeStoreUnavailable) {
		t.Fatalf("Handle() error = %v, want STORE_UNAVAILABLE", err)
	}
	if report.Terminal || report.OutputKey != "" {
		t.Errorf("report = %+v, want no output", report)
	}
}

type failingStore struct{ storage.ByteClient }

func (failingStore) Upload(context.Context, string, []byte) error { return errors.New("disk full") }

func TestHandle_RealTransform(t *testing.T) {
	f := newFixture(t)
	f.deps.Transformer = transform.NewImaging()
	src := testJPEG(t)
	if err := f.working.Upload(context.Background(), "dog.jpg", bytes.NewReader(src)); err != nil {
		t.Fatal(err)
	}
	w := f.worker(t, stage.Grayscale)

	report, err := w.Handle(context.Background(), encode(t, message.Message{ImageIdentifier: "dog.jpg", OutputFolder: "dog_augmented"}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	data := read(t, f.output, report.OutputKey)
	img, err := jpeg.Decode(bytes.NewReader([]byte(data)))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	r, g, b, _ := img.At(1, 1).RGBA()
	if r != g || g != b {
		t.Errorf("pixel (%d,%d,%d) is not gray", r, g, b)
	}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRunner_ConsumesAndStops(t *testing.T) {
	f := newFixture(t)
	mem := bus.NewMemory(4, logger.NewNop())
	reg := stage.Default("")
	f.deps.Router = router.New(reg, mem)
	w := f.worker(t, stage.Grayscale)
	r := worker.NewRunner(w, mem, "grayscale-workers", logger.NewNop())

	if r.Name() != "worker.grayscale" {
		t.Errorf("Name() = %q", r.Name())
	}
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if h := r.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("Health() = %+v", h)
	}

	if _, err := router.New(reg, mem).Dispatch(ctx, stage.Grayscale, message.Message{
		ImageIdentifier: "cat.jpg",
		OutputFolder:    "cat_augmented",
	}); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if ok, _ := f.output.Exists(ctx, "cat_augmented/cat_gray007.jpg"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("terminal artifact never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
	for r.Health(ctx).Message != "handled=1 failed=0" {
		if time.Now().After(deadline) {
			t.Fatalf("Health() = %+v, want hop counts", r.Health(ctx))
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if handled, failed, stalled := r.Stats(); handled != 1 || failed != 0 || stalled != 0 {
		t.Errorf("Stats() = %d, %d, %d", handled, failed, stalled)
	}
	if h := r.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("Health() after Stop = %+v, want unhealthy", h)
	}
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

// slowPublisher acknowledges after delay, or gives up with ctx.
type slowPublisher struct {
	bus.Publisher
	delay time.Duration
}

func (p slowPublisher) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Publisher.Publish(ctx, topic, key, value, headers)
}

func waitForKey(t *testing.T, s *memory.Storage, key string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if ok, _ := s.Exists(context.Background(), key); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never appeared", key)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunner_StopLetsInFlightHopAdvance(t *testing.T) {
	f := newFixture(t)
	mem := bus.NewMemory(4, logger.NewNop())
	reg := stage.Default("")
	f.deps.Router = router.New(reg, slowPublisher{Publisher: mem, delay: 300 * time.Millisecond}, router.WithTimeout(5*time.Second))
	r := worker.NewRunner(f.worker(t, stage.Grayscale), mem, "", logger.NewNop())

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := router.New(reg, mem).Dispatch(ctx, stage.Grayscale, message.Message{
		ImageIdentifier: "cat.jpg",
		Next:            []string{stage.Flip},
		OutputFolder:    "cat_augmented",
	}); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	waitForKey(t, f.working, "cat_gray007.jpg")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if n := len(mem.Published("imgflow.flip")); n != 1 {
		t.Errorf("advance published %d times, want 1", n)
	}
	if handled, failed, stalled := r.Stats(); handled != 1 || failed != 0 || stalled != 0 {
		t.Errorf("Stats() = %d, %d, %d", handled, failed, stalled)
	}
}

func TestRunner_StopDeadlineAbortsHop(t *testing.T) {
	f := newFixture(t)
	mem := bus.NewMemory(4, logger.NewNop())
	reg := stage.Default("")
	f.deps.Router = router.New(reg, slowPublisher{Publisher: mem, delay: time.Minute}, router.WithTimeout(time.Minute))
	r := worker.NewRunner(f.worker(t, stage.Grayscale), mem, "", logger.NewNop())

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := router.New(reg, mem).Dispatch(ctx, stage.Grayscale, message.Message{
		ImageIdentifier: "cat.jpg",
		Next:            []string{stage.Flip},
		OutputFolder:    "cat_augmented",
	}); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	waitForKey(t, f.working, "cat_gray007.jpg")

	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := r.Stop(stopCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Stop() outlived its context")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, _, stalled := r.Stats(); stalled == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("aborted hop was not recorded as stalled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(mem.Published("imgflow.flip")); n != 0 {
		t.Errorf("advance published %d times, want 0", n)
	}
}

// failingSubscriber ends every subscription immediately.
type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context, string, string, bus.Handler) error {
	return errors.New("broker unreachable")
}

func TestRunner_SubscriptionFailureIsUnhealthy(t *testing.T) {
	f := newFixture(t)
	r := worker.NewRunner(f.worker(t, stage.Flip), failingSubscriber{}, "", nil)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.Health(ctx).Message != "broker unreachable" {
		if time.Now().After(deadline) {
			t.Fatalf("Health() = %+v, want subscription error", r.Health(ctx))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h := r.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("Status = %s", h.Status)
	}
	if d := r.Describe(); d.Type != "worker" {
		t.Errorf("Describe() = %+v", d)
	}
	_ = r.Stop(ctx)
}
