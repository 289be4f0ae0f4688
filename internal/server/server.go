package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shinji-kodama/urlshield/internal/journal"
	"github.com/shinji-kodama/urlshield/internal/model"
	"github.com/shinji-kodama/urlshield/internal/store"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Addr is the listen address used by ListenAndServe.
	Addr string

	// ShutdownTimeout bounds how long in-flight requests may run after the
	// context passed to Serve is cancelled. Zero means
	// DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Metrics receives the server's collectors. Pass the value whose
	// RecordFlush is the store's OnFlush hook; nil creates a fresh set that
	// sees no flushes.
	Metrics *Metrics
}

// Server serves the blacklist API.
type Server struct {
	store    *store.Store
	activity *journal.Daily
	metrics  *Metrics
	opts     Options
	handler  http.Handler
}

// New creates a Server over st. Request activity is written to activity.
func New(st *store.Store, activity *journal.Daily, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	opts.Metrics.observeStore(st)
	s := &Server{
		store:    st,
		activity: activity,
		metrics:  opts.Metrics,
		opts:     opts,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.middleware)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route(model.ContextPath, func(r chi.Router) {
		r.Use(requireClient)

		r.Get("/fetch-hashes", s.handleFetchHashes)
		r.Post("/submit-malicious-url", s.handleSubmit)
		r.Get("/fetch-prefixes/memtable", s.handleMemtablePrefixes)
		r.Get("/fetch-prefixes/index", s.handleIndexPrefixes)
		r.Get("/fetch-blacklist-metadata", s.handleMetadata)
		r.Get("/get-logs", s.handleLogs)
	})
	return r
}

// ListenAndServe listens on Options.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully and writes the shutdown line to the activity log.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("HTTP server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		slog.Info("HTTP server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("HTTP shutdown error: %w", err)
		}
	}

	if err := s.activity.Close(); err != nil {
		slog.Warn("Failed to write shutdown line to activity log", "error", err)
	}
	return serveErr
}
