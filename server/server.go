package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/imgflow/logger"
	"github.com/kbukum/imgflow/server/endpoint"
	"github.com/kbukum/imgflow/server/middleware"
)

// Server serves a Gin engine, plus any raw handlers mounted with Handle, over
// HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	cfg    Config
	log    *logger.Logger
	engine *gin.Engine
	mux    *http.ServeMux
	h2s    *http2.Server
	http   *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr error
}

// New creates a Server with an empty engine. Call ApplyDefaults, or
// ApplyMiddleware, before Start.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		log:    log.WithComponent("server"),
		engine: gin.New(),
		mux:    http.NewServeMux(),
		h2s:    &http2.Server{MaxConcurrentStreams: 250, IdleTimeout: duration(cfg.IdleTimeout)},
	}
	s.mux.Handle("/", s.engine)
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           h2c.NewHandler(s.mux, s.h2s),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       duration(cfg.ReadTimeout),
		WriteTimeout:      duration(cfg.WriteTimeout),
		IdleTimeout:       duration(cfg.IdleTimeout),
	}
	return s
}

// GinEngine returns the engine routes are registered on.
func (s *Server) GinEngine() *gin.Engine { return s.engine }

// Handle mounts h on the root mux, next to the engine. Patterns ending in a
// slash match a subtree.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the root handler with the applied middleware.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ApplyMiddleware wraps the root mux in recovery, request id, CORS, the body
// limit and request logging, then extra. Raw mounts are covered too.
func (s *Server) ApplyMiddleware(extra ...middleware.Middleware) {
	stack := append([]middleware.Middleware{
		middleware.Recovery(s.log),
		middleware.RequestID(),
		middleware.CORS(&s.cfg.CORS),
		middleware.BodySizeLimit(s.cfg.MaxBodySize),
		middleware.RequestLogger(s.log),
	}, extra...)
	s.http.Handler = h2c.NewHandler(middleware.Chain(stack...)(s.mux), s.h2s)
}

// ApplyDefaults applies the middleware stack and mounts the probe and info
// endpoints.
func (s *Server) ApplyDefaults(service string, checker endpoint.HealthChecker, extra ...middleware.Middleware) {
	s.ApplyMiddleware(extra...)
	endpoint.Register(s.engine, service, checker)
}

// Start binds the listener and serves in the background. It returns once the
// port is bound.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.http.Addr, err)
	}
	s.listener = ln
	s.serveErr = nil

	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		s.log.Error("HTTP server stopped", map[string]interface{}{logger.FieldError: err.Error()})
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
	}()

	s.log.Info("HTTP server listening", map[string]interface{}{"addr": ln.Addr().String()})
	return nil
}

// Stop drains in-flight requests for at most the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()
	if !started {
		return nil
	}
	if d := duration(s.cfg.ShutdownTimeout); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

func (s *Server) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}
