package kafka

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"

	kafkago "github.com/segmentio/kafka-go"

	apperrors "github.com/kbukum/imgflow/errors"
)

// Broker error codes meaning the cluster cannot take writes right now.
var unavailable = []kafkago.Error{
	kafkago.BrokerNotAvailable,
	kafkago.LeaderNotAvailable,
	kafkago.NotLeaderForPartition,
	kafkago.NetworkException,
	kafkago.NotEnoughReplicas,
	kafkago.RequestTimedOut,
}

// FromKafka converts an error from publishing to topic into an AppError.
//
//   - a context deadline or a network timeout is TIMEOUT and still unwraps
//     to the client error
//   - an unreachable cluster is PUBLISH_FAILED with status 503
//   - a broker rejection such as MessageSizeTooLarge is PUBLISH_FAILED and
//     not retryable
//   - anything else is PUBLISH_FAILED
func FromKafka(err error, topic string) *apperrors.AppError {
	if err == nil {
		return nil
	}
	cause := first(err)
	if errors.Is(cause, context.DeadlineExceeded) || isTimeout(cause) {
		return apperrors.Timeout("publish to " + topic).WithCause(cause)
	}

	appErr := apperrors.PublishFailed(topic, err)

	var kerr kafkago.Error
	switch {
	case isUnreachable(cause):
		appErr.Message = "Message bus is temporarily unavailable."
		appErr.HTTPStatus = http.StatusServiceUnavailable
	case errors.As(cause, &kerr) && !kerr.Temporary():
		appErr.Message = "The message bus rejected the message: " + kerr.Title() + "."
		appErr.Retryable = false
	}
	return appErr
}

// first unpacks the per-message errors of a batch write; a hop is always a
// single message.
func first(err error) error {
	var we kafkago.WriteErrors
	if errors.As(err, &we) {
		for _, e := range we {
			if e != nil {
				return e
			}
		}
	}
	return err
}

func isUnreachable(err error) bool {
	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		return slices.Contains(unavailable, kerr)
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
