package server

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/kbukum/imgflow/component"
	"github.com/kbukum/imgflow/server/endpoint"
)

const componentName = "http-server"

var (
	_ component.Component     = (*ServerComponent)(nil)
	_ component.Describable   = (*ServerComponent)(nil)
	_ component.RouteProvider = (*ServerComponent)(nil)
)

// ServerComponent runs a Server under the bootstrap lifecycle.
type ServerComponent struct {
	server *Server
}

func NewComponent(s *Server) *ServerComponent { return &ServerComponent{server: s} }

func (sc *ServerComponent) Name() string                    { return componentName }
func (sc *ServerComponent) Start(ctx context.Context) error { return sc.server.Start(ctx) }
func (sc *ServerComponent) Stop(ctx context.Context) error  { return sc.server.Stop(ctx) }

// Health is unhealthy once the serve loop has failed.
func (sc *ServerComponent) Health(_ context.Context) component.Health {
	h := component.Health{Name: componentName, Status: component.StatusHealthy}
	if err := sc.server.err(); err != nil {
		h.Status = component.StatusUnhealthy
		h.Message = err.Error()
	}
	return h
}

func (sc *ServerComponent) Describe() component.Description {
	return component.Description{
		Name:    "HTTP Server",
		Type:    "server",
		Details: sc.server.Addr(),
		Port:    sc.server.cfg.Port,
	}
}

func (sc *ServerComponent) Routes() []component.Route { return sc.server.Routes() }

// Routes lists the engine's routes: API routes by path first, then the
// system endpoints.
func (s *Server) Routes() []component.Route {
	routes := make([]component.Route, 0, len(s.engine.Routes()))
	for _, r := range s.engine.Routes() {
		routes = append(routes, component.Route{
			Method:  r.Method,
			Path:    r.Path,
			Handler: handlerName(r.Handler),
		})
	}
	slices.SortFunc(routes, func(a, b component.Route) int {
		return cmp.Or(
			compareBool(endpoint.IsSystemPath(a.Path), endpoint.IsSystemPath(b.Path)),
			strings.Compare(a.Path, b.Path),
			cmp.Compare(methodRank(a.Method), methodRank(b.Method)),
		)
	})
	return routes
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

func methodRank(m string) int {
	if i := slices.Index([]string{"GET", "POST", "PUT", "PATCH", "DELETE"}, m); i >= 0 {
		return i
	}
	return 5
}

// handlerName shortens Gin's handler names:
//
//	github.com/kbukum/imgflow/api.(*Handler).submitRun-fm  ->  Handler.submitRun
//	github.com/kbukum/imgflow/server/endpoint.Health.func1 ->  health
func handlerName(full string) string {
	name := strings.TrimSuffix(full, "-fm")
	name = name[strings.LastIndex(name, "/")+1:]
	name = strings.NewReplacer("(*", "", ")", "").Replace(name)

	parts := strings.Split(name, ".")
	if len(parts) > 2 && strings.HasPrefix(parts[len(parts)-1], "func") {
		for i := len(parts) - 2; i > 0; i-- {
			if !strings.HasPrefix(parts[i], "func") {
				return strings.ToLower(parts[i])
			}
		}
	}
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}
