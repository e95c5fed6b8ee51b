package bus

import (
	"context"
	"time"
)

// Standard header keys attached to every published pipeline message.
const (
	HeaderContentType = "content-type"
	HeaderMessageID   = "message-id"
	HeaderStage       = "stage"
)

// Delivery is a single message as seen by a subscriber.
type Delivery struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one delivery. Returning an error marks the delivery as
// failed for logging purposes only.
type Handler func(ctx context.Context, d Delivery) error

// Publisher sends a message to a topic. Publish returns once the transport has
// acknowledged the message, or with an error when it cannot do so before ctx
// is done.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	Close() error
}

// Subscriber delivers messages from a topic to a handler. Subscribe blocks
// until ctx is cancelled or the subscription fails.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
}
