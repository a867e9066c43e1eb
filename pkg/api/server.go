package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/metrics"
)

// Server is the operational HTTP surface: health probes and Prometheus
// exposition. It carries no reconciliation endpoints.
type Server struct {
	srv    *http.Server
	lis    net.Listener
	logger zerolog.Logger
}

// NewServer builds the ops server on addr. Routes are fixed at
// construction; Start binds the listener.
func NewServer(addr string) *Server {
	logger := log.WithComponent("api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listen address and serves in the background. Bind
// failures surface here; a later serve failure marks the api component
// unhealthy instead.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	s.lis = lis

	metrics.RegisterComponent("api", true, "listening on "+lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Ops server listening")

	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metrics.UpdateComponent("api", false, err.Error())
			s.logger.Error().Err(err).Msg("Ops server stopped unexpectedly")
		}
	}()
	return nil
}

// Addr reports the bound listen address. Empty until Start succeeds,
// which matters when the configured address is ":0".
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Shutdown drains in-flight requests and stops serving. The api
// component goes unhealthy first so readiness flips before the
// listener closes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.lis == nil {
		return nil
	}
	metrics.UpdateComponent("api", false, "shutting down")

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	s.logger.Info().Msg("Ops server stopped")
	return nil
}

// Handler exposes the router for embedding in another mux or for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// requestLogger emits one debug line per request, tagged with the chi
// request ID.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("elapsed", time.Since(start)).
				Msg("Request served")
		})
	}
}
