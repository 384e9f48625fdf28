// Package httpapi exposes the relay over HTTP(S) with health checks, panic
// recovery and graceful shutdown.
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an HTTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// RelayPath is the route served by Relay.
	RelayPath string

	// Relay handles every request to RelayPath.
	Relay http.Handler

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config
}

// Server serves the relay endpoint and the health check.
type Server struct {
	config  ServerConfig
	handler http.Handler
}

// New creates a new Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.RelayPath == "" {
		cfg.RelayPath = "/api/sendUrl"
	}

	return &Server{
		config:  cfg,
		handler: newRouter(cfg.RelayPath, cfg.Relay),
	}
}

// Handler returns the routed handler with panic recovery applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on the configured address and blocks until the
// context is cancelled. See Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts requests on ln until the context is cancelled. It then stops
// accepting and waits up to 30 seconds for in-flight requests to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	slog.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"path", s.config.RelayPath,
		"tls_enabled", s.config.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
	} else {
		slog.Info("all requests completed")
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
