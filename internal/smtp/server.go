// Package smtp implements the inbound SMTP listener that accepts mail,
// resolves each recipient against the current routing settings, and hands
// accepted messages to the dispatcher.
package smtp

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mailfold/mailfold/internal/checks"
	"github.com/mailfold/mailfold/internal/dispatch"
	"github.com/mailfold/mailfold/internal/settings"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an SMTP listener.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server hostname used in banner and EHLO responses.
	Hostname string

	// Dispatcher executes delivery verdicts for received messages.
	Dispatcher *dispatch.Dispatcher

	// Settings serves the routing configuration snapshots.
	Settings *settings.Cache

	// Checks runs the enabled pre-delivery checks. Optional.
	Checks *checks.Runner

	// TLSConfig is the TLS configuration for STARTTLS support.
	// If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure SMTP AUTH.
	// If both are empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// MaxMessageSize is the largest accepted message in bytes.
	MaxMessageSize int64
}

// Server is the inbound SMTP listener. It accepts sessions and hands every
// received message to the Dispatcher for per-recipient delivery.
type Server struct {
	config   ServerConfig
	auth     *Authenticator
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 25 * 1024 * 1024
	}

	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
	}
}

// ListenAndServe starts the SMTP listener and blocks until the context is
// cancelled. On cancellation it stops accepting new connections and waits
// for in-flight sessions to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"hostname", s.config.Hostname,
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	// Unblock Accept when the context is cancelled
	go func() {
		<-ctx.Done()
		slog.Info("shutting down SMTP server")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown
				s.waitForSessions()
				return nil
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session := NewSession(conn, s)
			session.Handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
