// Package http provides the status API server.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/hlsabr/internal/config"
	"github.com/jmylchreest/hlsabr/internal/http/middleware"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig bound to localhost.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            8089,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// ServerConfigFrom applies the configured address to the defaults.
func ServerConfigFrom(cfg config.ServerConfig) ServerConfig {
	sc := DefaultServerConfig()
	if cfg.Host != "" {
		sc.Host = cfg.Host
	}
	if cfg.Port != 0 {
		sc.Port = cfg.Port
	}
	return sc
}

// Registrar is a handler that adds its operations to the API.
type Registrar interface {
	Register(api huma.API)
}

// Server serves the status API.
type Server struct {
	config     ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server. The version appears in the OpenAPI document.
func NewServer(config ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	logger = logger.With(slog.String("component", "http"))

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(chimiddleware.Compress(5))

	humaConfig := huma.DefaultConfig("hlsabr API", version)
	humaConfig.Info.Description = "Adaptive HLS playback session status"
	api := humachi.New(router, humaConfig)

	return &Server{
		config: config,
		router: router,
		api:    api,
		logger: logger,
	}
}

// Register adds the operations of each handler.
func (s *Server) Register(handlers ...Registrar) {
	for _, h := range handlers {
		h.Register(s.api)
	}
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// Start listens and serves until the server is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Address(),
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP server", slog.String("address", s.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
