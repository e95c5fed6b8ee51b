// Package consumer delivers stage topics from Kafka to bus handlers.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/imgflow/bus"
	"github.com/kbukum/imgflow/kafka"
	"github.com/kbukum/imgflow/logger"
)

// Subscriber opens one group reader per subscription.
type Subscriber struct {
	cfg kafka.Config
	log *logger.Logger
}

var _ bus.Subscriber = (*Subscriber)(nil)

// NewSubscriber returns a Subscriber reading with cfg.
func NewSubscriber(cfg kafka.Config, log *logger.Logger) *Subscriber {
	if log == nil {
		log = logger.NewNop()
	}
	cfg.ApplyDefaults()
	return &Subscriber{cfg: cfg, log: log.WithComponent("kafka.consumer")}
}

// Subscribe consumes topic as member of group until ctx is cancelled. An empty
// group uses the configured group id. Offsets are committed after the handler
// returns, whatever it returned: a failed hop is not redelivered.
func (s *Subscriber) Subscribe(ctx context.Context, topic, group string, handler bus.Handler) error {
	if !s.cfg.Enabled {
		return errors.New("kafka is disabled")
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("kafka consumer config: %w", err)
	}
	if group == "" {
		group = s.cfg.GroupID
	}
	dialer, err := s.cfg.Dialer()
	if err != nil {
		return err
	}

	log := s.log.WithFields(map[string]interface{}{logger.FieldTopic: topic, "group": group})
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:           s.cfg.Brokers,
		Topic:             topic,
		GroupID:           group,
		Dialer:            dialer,
		StartOffset:       s.cfg.StartOffset(),
		MaxBytes:          s.cfg.MaxBytes(),
		SessionTimeout:    kafka.ParseDuration(s.cfg.Consumer.SessionTimeout),
		HeartbeatInterval: kafka.ParseDuration(s.cfg.Consumer.HeartbeatInterval),
		RebalanceTimeout:  kafka.ParseDuration(s.cfg.Consumer.RebalanceTimeout),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	})
	defer r.Close()

	log.Info("Consuming")
	return consume(ctx, r, handler, kafka.ParseDuration(s.cfg.Consumer.MaxReadBackoff), log)
}

type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// consume runs the fetch, handle, commit loop. Fetch errors back off
// exponentially up to maxWait; only the first few of a streak are logged.
func consume(ctx context.Context, r reader, handler bus.Handler, maxWait time.Duration, log *logger.Logger) error {
	b := backoff.NewExponentialBackOff()
	if maxWait > 0 {
		b.InitialInterval = min(b.InitialInterval, maxWait)
		b.MaxInterval = maxWait
	}
	streak := 0

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("kafka reader closed: %w", err)
			}
			streak++
			wait := b.NextBackOff()
			if streak <= 3 {
				log.Error("Fetch failed", map[string]interface{}{
					logger.FieldError: err.Error(),
					"streak":          streak,
					"retry_in":        wait.String(),
				})
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if streak > 0 {
			log.Info("Fetching recovered", map[string]interface{}{"streak": streak})
			streak = 0
			b.Reset()
		}

		if err := handler(ctx, kafka.Delivery(m)); err != nil {
			log.Warn("Hop failed", map[string]interface{}{
				logger.FieldError: err.Error(),
				"partition":       m.Partition,
				"offset":          m.Offset,
			})
		}
		if err := commit(ctx, r, m); err != nil {
			log.Warn("Commit failed", map[string]interface{}{logger.FieldError: err.Error(), "offset": m.Offset})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// commitTimeout bounds the commit of a hop that finished after shutdown began.
const commitTimeout = 5 * time.Second

// commit records m as consumed even when ctx was cancelled while it was being
// handled, so a finished hop is not redelivered.
func commit(ctx context.Context, r reader, m kafkago.Message) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return r.CommitMessages(cctx, m)
}
