// Package buildapi exposes the live state of a running build over a local
// HTTP API on a Unix domain socket, so other tooling on the machine can watch
// a `gantry run` in flight.
package buildapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gantryci/gantry/internal/build"
	"github.com/gantryci/gantry/internal/socket"
	"github.com/gantryci/gantry/logger"
)

// Source provides the state the API serves. *build.Runner implements it.
type Source interface {
	Status() build.Status
}

// ServerOpts provides a way to configure a Server.
type ServerOpts func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(l logger.Logger, debug bool) ServerOpts {
	return func(s *Server) {
		s.logger = l
		s.debug = debug
	}
}

// WithSocketPath sets the socket path for the server.
func WithSocketPath(socketPath string) ServerOpts {
	return func(s *Server) {
		s.SocketPath = socketPath
	}
}

// WithToken sets the token for the server. If not set, a random token is
// generated.
func WithToken(token string) ServerOpts {
	return func(s *Server) {
		s.token = token
	}
}

// Server is a build API server. It serves a read-only view of the build
// currently being run, plus Prometheus metrics about it.
type Server struct {
	// SocketPath is the path to the socket that the server is (or will be)
	// listening on.
	SocketPath string

	logger logger.Logger
	debug  bool

	source  Source
	metrics *apiMetrics

	token   string
	sockSvr *socket.Server
}

// NewServer creates a build API server for the given state source.
func NewServer(source Source, opts ...ServerOpts) (server *Server, token string, err error) {
	if source == nil {
		return nil, "", errors.New("a state source is required")
	}

	token, err = socket.GenerateToken(32)
	if err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}

	s := &Server{
		source: source,
		token:  token,
	}

	for _, o := range opts {
		o(s)
	}

	if s.logger == nil {
		s.logger = logger.Discard
	}
	if s.SocketPath == "" {
		return nil, "", errors.New("socket path is required")
	}

	s.metrics = newAPIMetrics(s.source)

	svr, err := socket.NewServer(s.SocketPath, s.router())
	if err != nil {
		return nil, "", fmt.Errorf("creating socket server: %w", err)
	}
	s.sockSvr = svr

	return s, s.token, nil
}

// Start starts the server in a goroutine, returning an error if the server
// can't be started.
func (s *Server) Start() error {
	if err := s.sockSvr.Start(); err != nil {
		return fmt.Errorf("starting socket server: %w", err)
	}

	s.logger.Info("Build API listening on %s", s.SocketPath)
	return nil
}

// Stop gracefully shuts the server down, blocking until all requests have
// been served or the grace period has expired.
func (s *Server) Stop() error {
	// Shutdown signal with grace period of 10 seconds.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.sockSvr.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Build API shutdown timed out, server shutdown forced")
		}
		return fmt.Errorf("shutting down build API server: %w", err)
	}

	s.logger.Debug("Shut down build API server")
	return nil
}
