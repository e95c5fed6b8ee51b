package notify

import (
	"context"
	"time"
)

// Completion describes a run that reached its terminal hop.
type Completion struct {
	// Callback is the address to notify. It is not part of the payload.
	Callback string `json:"-"`
	// Stage is the kind of the terminal hop.
	Stage string `json:"stage"`
	// Source is the working-store key the terminal hop consumed.
	Source string `json:"source"`
	// OutputFolder is the run's output prefix.
	OutputFolder string `json:"output_folder"`
	// OutputKey is the key of the terminal artifact in the output store.
	OutputKey string `json:"output_key"`
	// Location is a resolvable address for the artifact.
	Location string `json:"location"`
	// CompletedAt is when the terminal write finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Notifier delivers completion notifications. A notification failure never
// affects the outcome of the hop that triggered it.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

// Noop discards notifications.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Completion) error { return nil }

var _ Notifier = Noop{}
