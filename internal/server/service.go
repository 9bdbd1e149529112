// Package server constructs and runs the chat service: it binds the TCP
// listener, accepts connections and hands each one to its own Session.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/linechat/internal/chatlog"
)

var (
	// ErrServiceClosed is returned by Serve and Listen after Shutdown.
	ErrServiceClosed = errors.New("chat service closed")
	// ErrNotListening is returned by Serve before a successful Listen.
	ErrNotListening = errors.New("chat service is not listening")
)

// Service is the accept loop plus the shared Registry and Router.
type Service struct {
	cfg      Config
	log      *slog.Logger
	registry *Registry
	router   *Router
	origins  *originPolicy

	nextID atomic.Uint64

	mu       sync.Mutex
	listener net.Listener
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewService wires a Registry and Router around sink. cfg is sanitized first.
func NewService(cfg Config, sink chatlog.Sink, log *slog.Logger) *Service {
	cfg.Sanitize()
	registry := NewRegistry()

	return &Service{
		cfg:      cfg,
		log:      log,
		registry: registry,
		router:   NewRouter(registry, sink, log),
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		sessions: make(map[*Session]struct{}),
	}
}

// Registry returns the service's participant registry.
func (s *Service) Registry() *Registry { return s.registry }

// Router returns the service's broadcast router.
func (s *Service) Router() *Router { return s.router }

// Config returns the sanitized configuration.
func (s *Service) Config() Config { return s.cfg }

// Listen binds the configured TCP port. A bind failure is fatal for the
// service and is returned to the caller.
func (s *Service) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Port, err)
	}
	s.listener = ln
	s.log.Info("Chat server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// Each connection runs on its own goroutine; accept never waits on a session.
func (s *Service) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrServiceClosed
	}
	if ln == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("Accept loop stopped")
				return nil
			}

			backoff = nextBackoff(backoff)
			s.log.Warn("Accept error; retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		s.log.Info("New client connected", "addr", conn.RemoteAddr().String())
		s.Attach(NewTCPLineConn(conn, s.cfg.MaxMessageSize))
	}
}

// Attach starts a Session for conn on its own goroutine. It returns nil and
// closes conn when the service is shutting down.
func (s *Service) Attach(conn LineConn) *Session {
	session := NewSession(s.nextID.Add(1), conn, s.registry, s.router, s.log, s.cfg.SessionOptions())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.sessions[session] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.untrack(session)
		session.Run()
	}()

	return session
}

func (s *Service) untrack(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

// Shutdown stops accepting, force-closes every session and waits for their
// goroutines, or returns context.DeadlineExceeded after timeout.
func (s *Service) Shutdown(timeout time.Duration) error {
	s.log.Info("Initiating chat service shutdown...")

	s.mu.Lock()
	s.closed = true
	ln := s.listener
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn("Error closing listener", "error", err)
		}
	}

	for _, session := range sessions {
		session.Close()
	}
	s.log.Info("Closed client sessions", "count", len(sessions))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Chat service shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.log.Warn("Chat service shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	current *= 2
	if limit := time.Second; current > limit {
		current = limit
	}
	return current
}
