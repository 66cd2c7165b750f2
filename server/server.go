// Package server implements the prime-check TCP server. Each accepted
// connection becomes a Session that answers integer frames with verdict
// string frames until the client sends the sentinel 0.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/primewire/logger"
	"github.com/cyberinferno/primewire/prime"
	"github.com/cyberinferno/primewire/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// acceptRetryDelay is the pause after a failed Accept before trying again.
const acceptRetryDelay = 10 * time.Millisecond

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server's logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithOracle sets the verdict source, e.g. one backed by a verdict cache.
func WithOracle(o *prime.Oracle) Option {
	return func(s *Server) {
		s.oracle = o
	}
}

// WithRegisterer registers the server's metrics with reg. The default is a
// private registry, so metrics are collected but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = reg
	}
}

// Server accepts TCP connections and serves a Session on each. Start runs
// the accept loop in a goroutine; Stop closes the listener and every live
// session.
type Server struct {
	cfg        Config
	log        logger.Logger
	oracle     *prime.Oracle
	registerer prometheus.Registerer
	metrics    *metrics
	limiter    *rate.Limiter

	listener net.Listener
	sessions *registry
	running  atomic.Bool
	slots    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a Server from cfg. The server does not listen until Start
// or Serve is called.
//
// Parameters:
//   - cfg: Listening and session settings (see DefaultConfig)
//   - opts: Optional logger, oracle and metrics registerer
//
// Returns:
//   - A new *Server
func New(cfg Config, opts ...Option) *Server {
	s := &Server{cfg: cfg, sessions: newRegistry()}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = logger.Nop()
	}

	if s.oracle == nil {
		s.oracle = prime.NewOracle(nil, nil)
	}

	if s.registerer == nil {
		s.registerer = prometheus.NewRegistry()
	}

	s.log = s.log.With(logger.F("server", cfg.Name))
	s.metrics = newMetrics(s.registerer, cfg.MetricsNamespace)

	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst < 1 {
			burst = 1
		}

		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}

	if cfg.MaxSessions > 0 {
		s.slots = make(chan struct{}, cfg.MaxSessions)
	}

	return s
}

// Start binds to the configured address and begins the accept loop in a
// goroutine.
//
// Returns:
//   - A *protocol.ConnectionError if listening fails, or an error if the
//     server is already running or the configuration is invalid
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("server %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("server %s already running", s.cfg.Name)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("server failed to start", logger.F("addr", s.cfg.Addr), logger.F("error", err))
		return &protocol.ConnectionError{Op: "listen", Addr: s.cfg.Addr, Err: err}
	}

	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.running.Store(true)

	s.log.Info("server started", logger.F("addr", ln.Addr().String()), logger.F("max_sessions", s.cfg.MaxSessions))
	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Serve starts the server and blocks until ctx is cancelled or Stop is
// called.
//
// Parameters:
//   - ctx: Cancelling ctx stops the server
//
// Returns:
//   - The error from Start, or nil after a clean stop
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	s.Wait(ctx)
	return nil
}

// Wait blocks until ctx is cancelled, stopping the server, or until Stop
// is called elsewhere. It returns immediately if the server never started.
func (s *Server) Wait(ctx context.Context) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-ctx.Done():
		s.Stop()
	case <-done:
	}
}

// Stop closes the listener and every live session, then waits for their
// goroutines to finish. Safe to call when the server is not running.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	s.running.Store(false)
	s.cancel()
	_ = s.listener.Close()

	s.sessions.each(func(ss *Session) bool {
		_ = ss.Close()
		return true
	})

	s.wg.Wait()
	close(s.done)
	s.log.Info("server stopped")
}

// Addr returns the listener's address, or nil before Start. Useful when
// listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// SessionCount returns the number of sessions currently being served.
func (s *Server) SessionCount() int {
	return s.sessions.len()
}

// Session returns the live session with the given id.
func (s *Server) Session(id uint32) (*Session, bool) {
	return s.sessions.get(id)
}

// acceptLoop accepts connections until the server stops. When MaxSessions
// is set, a free slot is acquired before Accept so that excess clients
// wait in the kernel backlog instead of being accepted and left idle.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		if !s.acquireSlot() {
			return
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				s.releaseSlot()
				return
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.releaseSlot()
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.log.Error("accept error", logger.F("error", &protocol.ConnectionError{Op: "accept", Addr: s.cfg.Addr, Err: err}))
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.startSession(conn)
	}
}

func (s *Server) startSession(conn net.Conn) {
	ss := newSession(s.sessions.nextID(), conn, s)
	s.sessions.add(ss)
	if !s.running.Load() {
		// Stop ran between Accept and add and did not see this session.
		_ = ss.Close()
	}

	s.metrics.sessionsTotal.Inc()
	s.metrics.sessionsActive.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseSlot()
		defer s.metrics.sessionsActive.Dec()
		defer s.sessions.remove(ss.id)

		ss.Handle(s.ctx)
	}()
}

func (s *Server) acquireSlot() bool {
	if s.slots == nil {
		return true
	}

	select {
	case s.slots <- struct{}{}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) releaseSlot() {
	if s.slots == nil {
		return
	}

	<-s.slots
}
