package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/pkg/orchestrator"
	"github.com/harun/uxorbit/pkg/report"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Config holds server configuration
type Config struct {
	Host          string
	Port          int
	Service       *orchestrator.Service
	Renderer      *report.Renderer
	Metrics       *metrics.Metrics
	ScreenshotDir string
}

// Server is the HTTP API server.
type Server struct {
	addr          string
	service       *orchestrator.Service
	renderer      *report.Renderer
	metrics       *metrics.Metrics
	screenshotDir string
	upgrader      websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	// closing ends open watch streams on shutdown.
	closing   chan struct{}
	closeOnce sync.Once
	watchers  sync.WaitGroup
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Renderer == nil {
		cfg.Renderer = report.NewRenderer(nil)
	}

	s := &Server{
		addr:          net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		service:       cfg.Service,
		renderer:      cfg.Renderer,
		metrics:       cfg.Metrics,
		screenshotDir: cfg.ScreenshotDir,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/sessions", s.handleStart)
		r.Post("/start-testing", s.handleStart)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/results", s.handleResults)
			r.Get("/export", s.handleExport)
			r.Get("/watch", s.handleWatch)
		})
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/get-results/{id}", s.handleResults)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.screenshotDir != "" {
		r.Handle("/static/screenshots/*", http.StripPrefix("/static/screenshots/",
			http.FileServer(http.Dir(s.screenshotDir))))
	}
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	log.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, closes watch streams, and waits for
// in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down API server")
	s.closeOnce.Do(func() { close(s.closing) })

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Watch streams did not close before shutdown deadline")
	}

	log.Info().Msg("API server stopped")
	return nil
}
