package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/imgflow/completion"
	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/ingress"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/resilience"
	"github.com/kbukum/imgflow/server"
	"github.com/kbukum/imgflow/server/middleware"
	"github.com/kbukum/imgflow/stage"
)

// Form fields of a run submission.
const (
	FieldFile         = "file"
	FieldStages       = "stages"
	FieldAugmentation = "augmentation"
	FieldMode         = "mode"
	FieldCallback     = "callback"
	FieldOutputFolder = "output_folder"
)

// Config configures the HTTP API.
type Config struct {
	// MaxUploadSize caps the uploaded image, e.g. "10MB".
	MaxUploadSize string `yaml:"max_upload_size" mapstructure:"max_upload_size"`
	// MaxConcurrentSubmissions bounds submissions in flight. Extra requests
	// wait up to SubmissionWait, then get 503.
	MaxConcurrentSubmissions int    `yaml:"max_concurrent_submissions" mapstructure:"max_concurrent_submissions"`
	SubmissionWait           string `yaml:"submission_wait" mapstructure:"submission_wait"`
	// RateLimit applies to submissions. A zero rate disables it.
	RateLimit middleware.RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "10MB"
	}
	if c.MaxConcurrentSubmissions <= 0 {
		c.MaxConcurrentSubmissions = 16
	}
	if c.SubmissionWait == "" {
		c.SubmissionWait = "2s"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if middleware.ParseSize(c.MaxUploadSize, -1) <= 0 {
		return fmt.Errorf("api.max_upload_size: invalid size %q", c.MaxUploadSize)
	}
	if _, err := time.ParseDuration(c.SubmissionWait); err != nil {
		return fmt.Errorf("api.submission_wait: %w", err)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("api.rate_limit must be non-negative")
	}
	return nil
}

// Submitter starts runs. *ingress.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, sub ingress.Submission) (*ingress.RunHandle, error)
}

// OutputLister lists a run's artifacts. *completion.Reader implements it.
type OutputLister interface {
	ListOutputs(ctx context.Context, folder string) ([]completion.Location, error)
}

// Handler serves the run submission and output listing endpoints.
type Handler struct {
	cfg       Config
	maxUpload int64
	submitter Submitter
	outputs   OutputLister
	registry  *stage.Registry
	bulkhead  *resilience.Bulkhead
	log       *logger.Logger
}

// New creates a Handler.
func New(cfg Config, submitter Submitter, outputs OutputLister, registry *stage.Registry, log *logger.Logger) (*Handler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if submitter == nil || outputs == nil || registry == nil {
		return nil, fmt.Errorf("api: submitter, output lister and registry are required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	wait, _ := time.ParseDuration(cfg.SubmissionWait)
	h := &Handler{
		cfg:       cfg,
		maxUpload: middleware.ParseSize(cfg.MaxUploadSize, 0),
		submitter: submitter,
		outputs:   outputs,
		registry:  registry,
		log:       log.WithComponent("api"),
	}
	h.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          "submissions",
		MaxConcurrent: cfg.MaxConcurrentSubmissions,
		MaxWait:       wait,
		OnReject: func(name string) {
			h.log.Warn("Submission rejected: too many in flight", map[string]interface{}{"bulkhead": name})
		},
	})
	return h, nil
}

// Register mounts the API under /api/v1.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	submit := []gin.HandlerFunc{}
	if h.cfg.RateLimit.RequestsPerSecond > 0 {
		submit = append(submit, middleware.GinWrap(middleware.RateLimit(h.cfg.RateLimit)))
	}
	submit = append(submit, h.submitRun)

	v1.POST("/runs", submit...)
	v1.GET("/outputs/*folder", h.listOutputs)
	v1.GET("/stages", h.listStages)
}

// submitRun handles a multipart upload and answers 202 with the RunHandle.
func (h *Handler) submitRun(c *gin.Context) {
	sub, err := h.readSubmission(c)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	var handle *ingress.RunHandle
	err = h.bulkhead.Execute(c.Request.Context(), func() error {
		var submitErr error
		handle, submitErr = h.submitter.Submit(c.Request.Context(), sub)
		return submitErr
	})
	switch {
	case errors.Is(err, resilience.ErrBulkheadFull), errors.Is(err, resilience.ErrBulkheadTimeout):
		server.RespondWithError(c, apperrors.ServiceUnavailable("ingress").WithCause(err))
		return
	case err != nil:
		server.RespondWithError(c, err)
		return
	}
	server.RespondAccepted(c, handle)
}

func (h *Handler) readSubmission(c *gin.Context) (ingress.Submission, error) {
	fh, err := c.FormFile(FieldFile)
	if err != nil {
		return ingress.Submission{}, apperrors.MissingField(FieldFile)
	}
	if fh.Size > h.maxUpload {
		return ingress.Submission{}, tooLarge(h.maxUpload)
	}
	f, err := fh.Open()
	if err != nil {
		return ingress.Submission{}, apperrors.InvalidInput(FieldFile, "cannot read upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return ingress.Submission{}, apperrors.InvalidInput(FieldFile, "cannot read upload")
	}
	if int64(len(data)) > h.maxUpload {
		return ingress.Submission{}, tooLarge(h.maxUpload)
	}

	stages := c.PostFormArray(FieldStages)
	if len(stages) == 0 {
		stages = c.PostFormArray(FieldAugmentation)
	}

	return ingress.Submission{
		Filename:     fh.Filename,
		Image:        data,
		Stages:       splitStages(stages),
		Mode:         ingress.Mode(strings.TrimSpace(c.PostForm(FieldMode))),
		Callback:     strings.TrimSpace(c.PostForm(FieldCallback)),
		OutputFolder: strings.TrimSpace(c.PostForm(FieldOutputFolder)),
	}, nil
}

// listOutputs answers with the locations currently under the folder. The
// folder may contain slashes.
func (h *Handler) listOutputs(c *gin.Context) {
	folder := strings.Trim(c.Param("folder"), "/")
	locs, err := h.outputs.ListOutputs(c.Request.Context(), folder)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOKWithMeta(c, locs, &server.Meta{Total: len(locs)})
}

func (h *Handler) listStages(c *gin.Context) {
	server.RespondOK(c, h.registry.Stages())
}

// splitStages accepts both repeated fields and comma-separated values.
func splitStages(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func tooLarge(limit int64) *apperrors.AppError {
	return apperrors.New(apperrors.ErrCodeInvalidInput,
		fmt.Sprintf("Uploaded file exceeds %d bytes.", limit), http.StatusRequestEntityTooLarge).
		WithDetail("field", FieldFile)
}
