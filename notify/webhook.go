package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/httpclient"
	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/resilience"
)

// EventHeader names the notification event on webhook requests.
const EventHeader = "X-Imgflow-Event"

// EventRunCompleted is the only event currently sent.
const EventRunCompleted = "run.completed"

// Config configures the webhook notifier.
type Config struct {
	// Timeout bounds one notification including retries.
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
	// MaxAttempts is the number of delivery attempts per notification.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// BearerToken is sent as an Authorization header when set.
	BearerToken string `yaml:"bearer_token" mapstructure:"bearer_token"`
	// InsecureSkipVerify disables certificate checks for HTTPS callbacks.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == "" {
		c.Timeout = "10s"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
}

// Validate checks timeout syntax and the attempt count.
func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("invalid notify.timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return fmt.Errorf("notify.timeout must be positive (got: %s)", c.Timeout)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts must be at least 1 (got: %d)", c.MaxAttempts)
	}
	return nil
}

// GetTimeout returns the parsed timeout.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Webhook posts a JSON Completion to the callback URL through an HTTP client
// with retry and a circuit breaker.
type Webhook struct {
	client *httpclient.Client
	log    *logger.Logger
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg Config, log *logger.Logger) (*Webhook, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	retry := httpclient.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxAttempts
	retry.InitialBackoff = 200 * time.Millisecond
	retry.MaxBackoff = 2 * time.Second

	hc := httpclient.Config{
		Timeout:            cfg.GetTimeout(),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Headers:            map[string]string{EventHeader: EventRunCompleted},
		BearerToken:        cfg.BearerToken,
		Retry:              retry,
		CircuitBreaker:     httpclient.DefaultCircuitBreakerConfig("webhook"),
	}

	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}
	return &Webhook{client: client, log: log.WithComponent("notify")}, nil
}

// Notify posts c to c.Callback. Non-2xx answers and transport failures are
// EXTERNAL_SERVICE_ERROR AppErrors; an unusable callback is INVALID_INPUT.
func (w *Webhook) Notify(ctx context.Context, c Completion) error {
	if err := checkCallback(c.Callback); err != nil {
		return err
	}

	resp, err := w.client.PostJSON(ctx, c.Callback, c)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return apperrors.ServiceUnavailable("callback").WithCause(err)
		}
		return apperrors.ExternalServiceError("callback", err)
	}

	w.log.Debug("Completion delivered", map[string]interface{}{
		logger.FieldOutputKey: c.OutputKey,
		logger.FieldStatus:    resp.StatusCode,
		"callback":            c.Callback,
	})
	return nil
}

func checkCallback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperrors.InvalidInput("callback", "callback must be an absolute http(s) URL")
	}
	return nil
}
