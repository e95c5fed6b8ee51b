package component

import "context"

// HealthStatus is the health of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Health is one component's report.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Worst folds reports into one status. No reports is healthy; an unknown
// status counts as unhealthy.
func Worst(reports []Health) HealthStatus {
	worst := StatusHealthy
	for _, h := range reports {
		if h.Status.rank() > worst.rank() {
			worst = h.Status
			if worst.rank() == 2 {
				return StatusUnhealthy
			}
		}
	}
	return worst
}

// Component is a piece of infrastructure with a lifecycle: the Kafka
// producer, a stage runner, a blob store, the HTTP server.
type Component interface {
	// Name is unique within a Registry.
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is a component's line in the startup summary.
type Description struct {
	// Name defaults to the component's Name().
	Name string
	// Type is one of "kafka", "storage", "server", "worker".
	Type    string
	Details string
	Port    int
}

// Describable components appear in the startup summary.
type Describable interface {
	Describe() Description
}

// Route is one HTTP route.
type Route struct {
	Method  string
	Path    string
	Handler string
}

// RouteProvider components list their routes in the startup summary.
type RouteProvider interface {
	Routes() []Route
}
