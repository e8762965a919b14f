// Package server exposes the job store over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/server/handlers"
	"github.com/ln2t/hpcjobs/internal/server/middleware"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// Timeouts bounds the HTTP server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts matches the configuration defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{Read: 30 * time.Second, Write: 30 * time.Second, Idle: 120 * time.Second, Shutdown: 10 * time.Second}
}

// Option configures a Server.
type Option func(*Server)

// WithJobs mounts the /jobs routes over source.
func WithJobs(source handlers.JobSource, markers slurm.Markers) Option {
	return func(s *Server) { s.jobs = handlers.NewJobsHandler(source, markers) }
}

// WithVersion sets the /version payload.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeouts overrides DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// Server is the HTTP API.
type Server struct {
	host     string
	port     int
	router   chi.Router
	jobs     *handlers.JobsHandler
	version  handlers.VersionInfo
	logger   *zap.Logger
	timeouts Timeouts
}

// New builds the router. Without WithJobs only health and version are served.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		version:  handlers.VersionInfo{Name: "hpcjobs", Version: "dev"},
		logger:   zap.NewNop(),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger(s.logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteErrorResponse(w,
			middleware.NewError(req, middleware.CodeNotFound, fmt.Sprintf("no route for %s", req.URL.Path)),
			http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteErrorResponse(w,
			middleware.NewError(req, middleware.CodeMethodNotAllowed,
				fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)),
			http.StatusMethodNotAllowed)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.jobs != nil {
		r.Get("/jobs", s.jobs.List)
		r.Get("/jobs/{id}", s.jobs.Get)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("Server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
