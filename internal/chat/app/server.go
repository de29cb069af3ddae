// Package server hosts the chat HTTP/WebSocket process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/foundline/chat/internal/chat/domain"
	"github.com/foundline/chat/internal/chat/identity"
	"github.com/foundline/chat/internal/chat/notify"
	"github.com/foundline/chat/internal/chat/storage/sqlite"
	"github.com/foundline/chat/internal/platform/timeouts"
)

// Config defines the inputs for the chat transport boundary.
type Config struct {
	HTTPAddr          string
	StoragePath       string
	TokenSecret       string
	IdentityBaseURL   string
	NotifyEndpoint    string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server serves the chat WebSocket surface over one SQLite-backed store.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

// NewServer builds a configured chat server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.TokenSecret) == "" {
		return nil, errors.New("token secret is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open chat storage: %w", err)
	}

	var identityStore domain.IdentityStore
	if baseURL := strings.TrimSpace(config.IdentityBaseURL); baseURL != "" {
		identityStore = identity.NewClient(baseURL, &http.Client{
			Timeout: timeouts.CollaboratorRequest,
		})
	}
	var notifier domain.Notifier
	if endpoint := strings.TrimSpace(config.NotifyEndpoint); endpoint != "" {
		notifier = notify.NewEmailer(endpoint, &http.Client{
			Timeout: timeouts.CollaboratorRequest,
		})
	}

	service := domain.NewService(domain.Config{
		Store:    newDomainStoreAdapter(store, store),
		Identity: identityStore,
		Notifier: notifier,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandlerWithAuthorizer(service, newTokenAuthorizer(config.TokenSecret)),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a chat server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("chat server listening on %s", s.httpAddr)
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

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close chat storage: %v", err)
		}
	}
}
