// Package server runs the HTTP API with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/net/netutil"

	"github.com/remiblancher/qsign/internal/config"
)

// Server is the HTTP server.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	version string
	srv     *http.Server
	logger  *log.Logger
}

// New creates a Server serving handler.
func New(cfg config.ServerConfig, handler http.Handler, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		version: version,
		logger:  logger,
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Listen opens the listening socket, capped at MaxConnections when set.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	return ln, nil
}

// Start listens and serves until ctx is done or SIGINT/SIGTERM arrives,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			errChan <- s.srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			errChan <- s.srv.Serve(ln)
		}
	}()
	s.printStartupInfo(ln.Addr())

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Printf("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Printf("Server stopped gracefully")
	return nil
}

func (s *Server) printStartupInfo(addr net.Addr) {
	scheme := "http"
	if s.cfg.TLSCert != "" {
		scheme = "https"
	}
	s.logger.Printf("qsign API %s listening on %s://%s", s.version, scheme, addr)
	if s.cfg.MaxConnections > 0 {
		s.logger.Printf("  max connections: %d", s.cfg.MaxConnections)
	}
	s.logger.Printf("Endpoints:")
	for _, e := range []string{
		"GET  /health",
		"GET  /ready",
		"POST /api/sign",
		"POST /api/sign/batch",
		"POST /api/sign/cosign",
		"POST /api/sign/certificate/info",
		"POST /api/sign/verify",
		"POST /api/sign/extract",
		"POST /api/verify",
		"POST /api/verify/extract",
	} {
		s.logger.Printf("  %s", e)
	}
}
