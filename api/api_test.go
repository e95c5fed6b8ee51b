package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/imgflow/api"
	"github.com/kbukum/imgflow/completion"
	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/ingress"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/server/middleware"
	"github.com/kbukum/imgflow/stage"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeSubmitter struct {
	mu      sync.Mutex
	got     []ingress.Submission
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSubmitter) Submit(_ context.Context, sub ingress.Submission) (*ingress.RunHandle, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, sub)
	if f.err != nil {
		return nil, f.err
	}
	return &ingress.RunHandle{RunID: "run-1", SourceKey: sub.Filename, OutputFolder: "cat_augmented", Mode: sub.Mode, Stages: sub.Stages}, nil
}

type fakeLister struct {
	folder string
	locs   []completion.Location
	err    error
}

func (f *fakeLister) ListOutputs(_ context.Context, folder string) ([]completion.Location, error) {
	f.folder = folder
	return f.locs, f.err
}

func newEngine(t *testing.T, cfg api.Config, sub api.Submitter, lister api.OutputLister) *gin.Engine {
	t.Helper()
	h, err := api.New(cfg, sub, lister, stage.Default(""), logger.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	engine := gin.New()
	h.Register(engine)
	return engine
}

type form struct {
	filename string
	file     []byte
	fields   map[string][]string
}

func (f form) request(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if f.filename != "" {
		fw, err := w.CreateFormFile(api.FieldFile, f.filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(f.file); err != nil {
			t.Fatal(err)
		}
	}
	for k, vs := range f.fields {
		for _, v := range vs {
			if err := w.WriteField(k, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(engine http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestSubmitRun_Accepted(t *testing.T) {
	sub := &fakeSubmitter{}
	engine := newEngine(t, api.Config{}, sub, &fakeLister{})

	rec := serve(engine, form{
		filename: "cat.jpg",
		file:     []byte("img"),
		fields: map[string][]string{
			api.FieldStages:       {"grayscale", "flip, sharpen"},
			api.FieldMode:         {"chain"},
			api.FieldCallback:     {"https://example.test/hook"},
			api.FieldOutputFolder: {"runs/1"},
		},
	}.request(t))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(sub.got) != 1 {
		t.Fatalf("submissions = %d", len(sub.got))
	}
	s := sub.got[0]
	if s.Filename != "cat.jpg" || string(s.Image) != "img" || s.Mode != ingress.ModeChain ||
		s.Callback != "https://example.test/hook" || s.OutputFolder != "runs/1" {
		t.Errorf("submission = %+v", s)
	}
	if len(s.Stages) != 3 || s.Stages[0] != "grayscale" || s.Stages[1] != "flip" || s.Stages[2] != "sharpen" {
		t.Errorf("stages = %v", s.Stages)
	}

	var resp struct {
		Data ingress.RunHandle `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Data.RunID != "run-1" {
		t.Errorf("run_id = %q", resp.Data.RunID)
	}
}

func TestSubmitRun_AugmentationField(t *testing.T) {
	sub := &fakeSubmitter{}
	engine := newEngine(t, api.Config{}, sub, &fakeLister{})

	rec := serve(engine, form{
		filename: "cat.jpg",
		file:     []byte("img"),
		fields:   map[string][]string{api.FieldAugmentation: {"grayscale", "flip"}},
	}.request(t))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := sub.got[0].Stages; len(got) != 2 {
		t.Errorf("stages = %v", got)
	}
}

func TestSubmitRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		form   form
		subErr error
		cfg    api.Config
		status int
		code   string
	}{
		{
			name:   "missing file",
			form:   form{fields: map[string][]string{api.FieldStages: {"flip"}}},
			status: http.StatusBadRequest,
			code:   string(apperrors.ErrCodeMissingField),
		},
		{
			name:   "file too large",
			form:   form{filename: "big.jpg", file: bytes.Repeat([]byte("x"), 2048), fields: map[string][]string{api.FieldStages: {"flip"}}},
			cfg:    api.Config{MaxUploadSize: "1KB"},
			status: http.StatusRequestEntityTooLarge,
			code:   string(apperrors.ErrCodeInvalidInput),
		},
		{
			name:   "unknown stage",
			form:   form{filename: "cat.jpg", file: []byte("img"), fields: map[string][]string{api.FieldStages: {"sepia"}}},
			subErr: apperrors.UnknownStage("sepia"),
			status: http.StatusBadRequest,
			code:   string(apperrors.ErrCodeUnknownStage),
		},
		{
			name:   "publish timeout",
			form:   form{filename: "cat.jpg", file: []byte("img"), fields: map[string][]string{api.FieldStages: {"flip"}}},
			subErr: apperrors.PublishTimeout("imgflow.flip", time.Minute),
			status: http.StatusGatewayTimeout,
			code:   string(apperrors.ErrCodePublishTimeout),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(t, tt.cfg, &fakeSubmitter{err: tt.subErr}, &fakeLister{})
			rec := serve(engine, tt.form.request(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body)
			}
			var resp apperrors.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if string(resp.Error.Code) != tt.code {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.code)
			}
		})
	}
}

func TestSubmitRun_BulkheadFull(t *testing.T) {
	sub := &fakeSubmitter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	engine := newEngine(t, api.Config{MaxConcurrentSubmissions: 1, SubmissionWait: "0s"}, sub, &fakeLister{})
	req := func() *http.Request {
		return form{filename: "cat.jpg", file: []byte("img"), fields: map[string][]string{api.FieldStages: {"flip"}}}.request(t)
	}

	first := make(chan int, 1)
	firstReq := req()
	go func() { first <- serve(engine, firstReq).Code }()
	<-sub.entered

	rec := serve(engine, req())
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("second submission status = %d, want 503", rec.Code)
	}

	close(sub.block)
	if code := <-first; code != http.StatusAccepted {
		t.Errorf("first submission status = %d, want 202", code)
	}
}

func TestSubmitRun_RateLimited(t *testing.T) {
	engine := newEngine(t, api.Config{RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}}, &fakeSubmitter{}, &fakeLister{})
	req := func() *http.Request {
		return form{filename: "cat.jpg", file: []byte("img"), fields: map[string][]string{api.FieldStages: {"flip"}}}.request(t)
	}

	if rec := serve(engine, req()); rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := serve(engine, req()); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", rec.Code)
	}
}

func TestListOutputs(t *testing.T) {
	lister := &fakeLister{locs: []completion.Location{
		{Key: "runs/1/cat_gray001.jpg", Name: "cat_gray001.jpg", URL: "mem://o/runs/1/cat_gray001.jpg"},
	}}
	engine := newEngine(t, api.Config{}, &fakeSubmitter{}, lister)

	rec := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/outputs/runs/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if lister.folder != "runs/1" {
		t.Errorf("folder = %q, want runs/1", lister.folder)
	}
	var resp struct {
		Data []completion.Location `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Meta.Total != 1 || resp.Data[0].Name != "cat_gray001.jpg" {
		t.Errorf("response = %+v", resp)
	}
}

func TestListOutputs_Error(t *testing.T) {
	lister := &fakeLister{err: apperrors.InvalidInput("output_folder", "must be a non-empty folder name")}
	engine := newEngine(t, api.Config{}, &fakeSubmitter{}, lister)

	rec := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/outputs/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListStages(t *testing.T) {
	engine := newEngine(t, api.Config{}, &fakeSubmitter{}, &fakeLister{})

	rec := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/stages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data []stage.Stage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 6 || resp.Data[0].Kind != stage.Grayscale || resp.Data[0].Suffix != "_gray" {
		t.Errorf("stages = %+v", resp.Data)
	}
}

func TestConfig(t *testing.T) {
	var c api.Config
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := []api.Config{
		{MaxUploadSize: "lots", SubmissionWait: "1s"},
		{MaxUploadSize: "1MB", SubmissionWait: "soon"},
		{MaxUploadSize: "1MB", SubmissionWait: "1s", RateLimit: middleware.RateLimitConfig{RequestsPerSecond: -1}},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("Validate(%+v) should fail", b)
		}
	}
	if _, err := api.New(api.Config{}, nil, &fakeLister{}, stage.Default(""), nil); err == nil {
		t.Error("New() without submitter should fail")
	}
}
