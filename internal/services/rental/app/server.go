// Package server hosts the rental synchronization service: the canonical
// fleet state behind the mutation engine, and the HTTP/WebSocket transport
// that carries intents in and snapshots out.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/platform/timeouts"
	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/domain"
	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/engine"
)

// Config defines the inputs for the rental server.
type Config struct {
	HTTPAddr          string
	SeedPath          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the rental HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewServer builds a configured rental server. The fleet comes from the seed
// file when one is configured, otherwise from the built-in demo fixture.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	var state *domain.State
	if path := strings.TrimSpace(config.SeedPath); path != "" {
		loaded, err := domain.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load fleet seed: %w", err)
		}
		log.Printf("rental: fleet seeded from %s", path)
		state = loaded
	} else {
		state = domain.DefaultState()
	}

	hub := newHub()
	eng := engine.New(state, hub)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(eng, hub),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
	}, nil
}

// Run creates and serves a rental server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init rental server: %w", err)
	}
	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve rental: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends, then shuts it
// down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("rental server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("rental server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
