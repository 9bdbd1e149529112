// Package server manages individual chat participants, handling the name
// handshake, read and write pumps, rate limiting, and lifecycle control for
// each connection.
package server

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SessionState is a step in a session's lifecycle. States only move forward.
type SessionState int

const (
	// StateConnecting is the state of a freshly accepted connection.
	StateConnecting SessionState = iota
	// StateAwaitingName waits for the first line, the display name.
	StateAwaitingName
	// StateActive means the participant is registered and chatting.
	StateActive
	// StateClosing runs deregistration and the departure announcement.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingName:
		return "awaiting-name"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionOptions tunes a session's outbound queue and throttling.
type SessionOptions struct {
	SendBufferSize int
	WriteTimeout   time.Duration
	RateLimit      RateLimitConfig
}

// Session owns one accepted connection end-to-end.
type Session struct {
	id       uint64
	conn     LineConn
	registry *Registry
	router   *Router
	log      *slog.Logger
	opts     SessionOptions
	limiter  *rateLimiter

	// mu guards state and name and is held across the join and leave
	// broadcasts so the two can never be reordered.
	mu    sync.Mutex
	state SessionState
	name  string

	send     chan string
	done     chan struct{}
	doneOnce sync.Once
	pumpDone chan struct{}
}

// NewSession creates a session in StateConnecting for conn.
func NewSession(id uint64, conn LineConn, registry *Registry, router *Router, log *slog.Logger, opts SessionOptions) *Session {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	return &Session{
		id:       id,
		conn:     conn,
		registry: registry,
		router:   router,
		log:      log.With("session", id, "addr", conn.RemoteAddr()),
		opts:     opts,
		limiter:  newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval),
		state:    StateConnecting,
		send:     make(chan string, opts.SendBufferSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// ID returns the session id assigned at accept time.
func (s *Session) ID() uint64 { return s.id }

// Name returns the display name, empty until the handshake completes.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until the connection ends. It blocks, so callers
// schedule it on its own goroutine.
func (s *Session) Run() {
	if !s.transition(StateConnecting, StateAwaitingName) {
		return
	}

	name, err := s.conn.ReadLine()
	name = strings.TrimSpace(name)
	if err != nil || name == "" {
		if err != nil && !isEndOfStream(err) {
			s.log.Debug("Client disconnected before sending name", "error", err)
		} else {
			s.log.Debug("Client disconnected before sending name")
		}
		s.abandon()
		return
	}

	if !s.activate(name) {
		s.release()
		return
	}

	go s.writePump()
	s.readPump()
	s.Close()
	<-s.pumpDone
}

// activate binds name, registers the participant and announces it. It fails
// when Close won the race during the handshake.
func (s *Session) activate(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingName {
		return false
	}
	s.name = name
	s.state = StateActive
	s.log = s.log.With("name", name)
	s.registry.Register(s)
	s.log.Info("Participant joined", "participants", s.registry.Len())

	s.router.Broadcast(joinAnnouncement(name), false)
	return true
}

func (s *Session) readPump() {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			s.handleReadError(err)
			return
		}

		// Flood control paces the reader; every accepted line is still broadcast.
		if !s.limiter.wait(s.done) {
			return
		}

		s.router.Broadcast(NewChatMessage(s.id, s.name, line), true)
	}
}

// handleReadError logs the reason the read loop stopped.
func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, ErrLineTooLong):
		s.log.Warn("Message exceeded maximum size; disconnecting")
	case isEndOfStream(err):
		s.log.Info("Client disconnected")
	case isExpectedCloseError(err):
		s.log.Info("Client connection closed", "error", err)
	default:
		s.log.Warn("Read error", "error", err)
	}
}

func (s *Session) writePump() {
	defer close(s.pumpDone)

	for {
		select {
		case line := <-s.send:
			if err := s.conn.WriteLine(line, s.opts.WriteTimeout); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Warn("Error writing message", "error", err)
				}
				s.abort()
				return
			}
		case <-s.done:
			return
		}
	}
}

// SendLine queues text for delivery and returns immediately. A full queue
// means the peer cannot keep up; its connection is torn down and the read
// loop takes the session through Closing.
func (s *Session) SendLine(text string) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.send <- text:
	case <-s.done:
	default:
		s.log.Warn("Send buffer full; disconnecting slow participant", "buffer", cap(s.send))
		s.abort()
	}
}

// Close deregisters the participant, announces its departure and releases
// the connection. Only the first call does anything.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnecting, StateAwaitingName:
		s.state = StateClosed
		s.release()
	case StateActive:
		s.state = StateClosing
		s.registry.Unregister(s)
		s.router.Broadcast(leaveAnnouncement(s.name), false)
		s.release()
		s.state = StateClosed
		s.log.Info("Participant left", "participants", s.registry.Len())
	}
}

// abandon finishes a session that never got a name: no announcement.
func (s *Session) abandon() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.release()
}

// abort drops the socket without a closing handshake so the blocked read
// returns. It must not block: SendLine calls it under the Router lock.
func (s *Session) abort() {
	if err := s.conn.Abort(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("Error closing connection", "error", err)
	}
}

func (s *Session) release() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("Error closing connection", "error", err)
	}
}

func (s *Session) transition(from, to SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func isEndOfStream(err error) bool {
	return errors.Is(err, errEndOfStream)
}
