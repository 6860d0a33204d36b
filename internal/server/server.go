// ABOUTME: Server orchestrator wiring the store, engine, and HTTP transports
// ABOUTME: Manages startup composition and graceful shutdown lifecycle

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/coven-registry/internal/auth"
	"github.com/2389/coven-registry/internal/config"
	"github.com/2389/coven-registry/internal/discovery"
	"github.com/2389/coven-registry/internal/httpapi"
	"github.com/2389/coven-registry/internal/mcpserver"
	"github.com/2389/coven-registry/internal/registry"
	"github.com/2389/coven-registry/internal/store"
)

// shutdownTimeout bounds the graceful drain on exit.
const shutdownTimeout = 5 * time.Second

// Server composes the registry components behind one HTTP listener: the
// plain HTTP API at the root and the MCP endpoint at /mcp.
type Server struct {
	config     *config.Config
	store      *store.SQLiteStore
	engine     *registry.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	disc := discovery.NewClient(cfg.Discovery.Timeout, logger)

	engine, err := registry.New(registry.Config{
		Store:           st,
		Discoverer:      disc,
		RereadURL:       cfg.Discovery.RereadURL,
		MaxPromptLength: cfg.Roles.MaxSystemPromptLength,
		Logger:          logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing registry engine: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("admin API authentication enabled")
	} else {
		logger.Warn("auth.jwt_secret not set, admin API is unauthenticated")
	}

	mcpSrv, err := mcpserver.NewServer(mcpserver.Config{
		Engine: engine,
		Store:  st,
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing MCP server: %w", err)
	}

	api := httpapi.New(engine, st, verifier, logger)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mcpSrv.RegisterRoutes(mux)

	return &Server{
		config: cfg,
		store:  st,
		engine: engine,
		httpServer: &http.Server{
			Addr:         cfg.Server.HTTPAddr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: logger.With("component", "server"),
	}, nil
}

// Run serves until the context is canceled or the listener fails, then
// drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
