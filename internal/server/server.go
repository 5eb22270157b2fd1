// Package server exposes the download queue over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/wsfetch/internal/errors"
	"github.com/3leaps/wsfetch/internal/server/handlers"
	"github.com/3leaps/wsfetch/internal/server/middleware"
	"github.com/3leaps/wsfetch/pkg/events"
)

// Timeouts for the underlying http.Server. Zero values keep the defaults
// below.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// Server is the HTTP front end.
type Server struct {
	host     string
	port     int
	router   chi.Router
	api      *handlers.API
	bus      *events.Bus
	timeouts Timeouts
	logger   *zap.Logger

	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithAPI mounts the queue, history, path and process endpoints.
func WithAPI(api *handlers.API) Option {
	return func(s *Server) { s.api = api }
}

// WithEvents mounts GET /events backed by bus.
func WithEvents(bus *events.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithTimeouts sets the http.Server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a server and its routes. Nothing listens until Start.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:   host,
		port:   port,
		logger: zap.NewNop(),
		timeouts: Timeouts{
			Read:  30 * time.Second,
			Write: 30 * time.Second,
			Idle:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFoundError("route "+r.URL.Path+" not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteJSON(w, http.StatusMethodNotAllowed, apperrors.HTTPErrorResponse{Error: apperrors.HTTPError{
			Code:      apperrors.CodeMethodNotAllowed,
			Message:   r.Method + " is not allowed on " + r.URL.Path,
			RequestID: chimw.GetReqID(r.Context()),
		}})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	api := s.api
	if api == nil {
		api = &handlers.API{}
	}
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", api.ListQueue)
		r.Post("/", api.Enqueue)
		r.Get("/{id}", api.GetJob)
		r.Post("/{id}/retry", api.RetryJob)
	})
	r.Route("/history", func(r chi.Router) {
		r.Get("/", api.ListHistory)
		r.Delete("/", api.ClearHistory)
		r.Delete("/{id}", api.RemoveHistory)
	})
	r.Get("/paths/exists", api.PathExists)
	r.Post("/paths/open", api.OpenInFileManager)
	r.Get("/processes", api.ListProcesses)
	r.Get("/events", handlers.Events(s.bus))

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port. After Start with port 0 it returns the
// bound port.
func (s *Server) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Start binds the listener and serves in the background. Serve errors other
// than a clean shutdown are sent on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprint(s.port)))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	// Long-lived /events streams end when shutdown starts.
	baseCtx, cancel := context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Handler:           s.router,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.timeouts.Read,
		IdleTimeout:       s.timeouts.Idle,
	}
	// /events is long-lived; a write timeout would cut it off.
	if s.bus == nil {
		s.httpServer.WriteTimeout = s.timeouts.Write
	}
	s.httpServer.RegisterOnShutdown(cancel)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return errCh, nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
