// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server listens on a stream socket, detaches every accepted descriptor from
// the Go runtime poller and registers it with the dispatcher pool.

package server

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/adapters"
	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/connection"
	"github.com/momentics/hioload-nio/core/watchdog"
	"github.com/momentics/hioload-nio/handler"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/reactor"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrServerClosed   = errors.New("server closed")
)

const maxAcceptDelay = time.Second

// NewServer builds a Server that runs chain for every accepted connection.
// cfg is copied; options apply to the copy.
func NewServer(cfg *Config, chain *handler.Chain, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{
		cfg: &c,
		log: logger.DefaultLogger,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.DispatcherSize < 1 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "server: dispatcher size must be positive").
			WithContext("size", s.cfg.DispatcherSize)
	}
	if s.cfg.Network == "" {
		s.cfg.Network = "tcp"
	}
	if s.cfg.Name == "" {
		s.cfg.Name = "server"
	}
	if s.control == nil {
		s.control = adapters.NewControlAdapter(s.log)
	}
	if chain == nil {
		chain = handler.NewChain()
	}
	parts := make([]any, 0, 3)
	if s.cfg.TraceConnections {
		parts = append(parts, adapters.NewLoggingHandler(s.log))
	}
	parts = append(parts, adapters.NewMetricsHandler(s.control), chain)
	s.chain = handler.NewChain(parts...)
	return s, nil
}

// Start opens the listener, the dispatcher pool, the watchdog and the worker
// pool, then accepts connections in the background.
func (s *Server) Start() error {
	if s.stopping.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen(s.cfg.Network, s.cfg.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return api.WrapError(api.ErrCodeIO, "listen", err).WithContext("addr", s.cfg.ListenAddr)
	}

	dopts := []reactor.DispatcherOption{
		reactor.WithMaxHandles(s.cfg.MaxHandles),
		reactor.WithEventBatch(s.cfg.EventBatch),
	}
	if s.cfg.ReadBufferPrealloc > 0 {
		dopts = append(dopts, reactor.WithReadBuffer(s.cfg.ReadBufferPrealloc, s.cfg.ReadBufferMin))
	}
	popts := []reactor.PoolOption{
		reactor.WithPoolLogger(s.log),
		reactor.WithDispatcherOptions(dopts...),
	}
	if s.cfg.PinDispatchers {
		if cpus, err := affinity.AllowedCPUs(); err == nil {
			popts = append(popts, reactor.WithCPUAffinity(cpus))
		} else {
			s.log.Warn("[Server] dispatcher pinning disabled: %v", err)
		}
	}
	popts = append(popts, s.poolOpts...)
	pool, err := reactor.NewDispatcherPool(s.cfg.Name, s.cfg.DispatcherSize, popts...)
	if err != nil {
		_ = ln.Close()
		s.running.Store(false)
		return err
	}

	wd := watchdog.New(watchdog.WithLogger(s.log))
	exec := s.executor
	var owned *adapters.ExecutorAdapter
	if exec == nil {
		owned = adapters.NewExecutorAdapter(s.cfg.ExecutorWorkers, s.log)
		exec = owned
	}

	unbind := []func(){
		s.control.BindPool(pool),
		s.control.BindWatchdog(s.cfg.Name, wd),
		s.control.BindExecutor(exec),
	}
	_ = s.control.SetConfig(map[string]any{
		adapters.KeyDispatcherSize:  s.cfg.DispatcherSize,
		adapters.KeyExecutorWorkers: exec.NumWorkers(),
	})

	connOpts := append([]connection.Option{
		connection.WithLogger(s.log),
		connection.WithWatchdog(wd),
		connection.WithIdleTimeout(s.cfg.IdleTimeout),
		connection.WithConnectionTimeout(s.cfg.ConnectionTimeout),
		connection.WithExecutor(exec),
	}, s.connOpts...)

	done := make(chan struct{})
	s.mu.Lock()
	s.listener = ln
	s.pool = pool
	s.watchdog = wd
	s.ownedExec = owned
	s.acceptor = done
	s.unbind = unbind
	s.mu.Unlock()

	go s.acceptLoop(ln, pool, connOpts, done)
	s.log.Info("[Server] %s listening on %s", s.cfg.Name, ln.Addr())
	return nil
}

func (s *Server) acceptLoop(ln net.Listener, pool *reactor.DispatcherPool, connOpts []connection.Option, done chan struct{}) {
	defer close(done)
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.acceptErrors.Add(1)
			delay = min(max(2*delay, 5*time.Millisecond), maxAcceptDelay)
			s.log.Warn("[Server] accept: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.accepted.Add(1)
		pool.IncAccepted()
		s.serve(conn, pool, connOpts)
	}
}

func (s *Server) serve(conn net.Conn, pool *reactor.DispatcherPool, connOpts []connection.Option) {
	remote := conn.RemoteAddr()
	sock, err := connection.Detach(conn)
	if err != nil {
		_ = conn.Close()
		s.log.Warn("[Server] detach %v: %v", remote, err)
		return
	}
	if s.codecFactory != nil {
		connOpts = append(connOpts[:len(connOpts):len(connOpts)], connection.WithCodec(s.codecFactory()))
	}
	if _, err := connection.New(sock, remote, s.chain, pool, connOpts...); err != nil {
		s.log.Warn("[Server] register %v: %v", remote, err)
	}
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Pool returns the dispatcher pool, or nil before Start.
func (s *Server) Pool() *reactor.DispatcherPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// GetControl exposes runtime configuration, metrics and debug probes.
func (s *Server) GetControl() api.Control {
	return s.control
}

// Control returns the concrete control adapter.
func (s *Server) Control() *adapters.ControlAdapter {
	return s.control
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Accepted:     s.accepted.Load(),
		AcceptErrors: s.acceptErrors.Load(),
	}
	s.mu.Lock()
	ln, pool, wd, exec := s.listener, s.pool, s.watchdog, s.ownedExec
	s.mu.Unlock()
	if ln != nil {
		st.Addr = ln.Addr().String()
	}
	if pool != nil {
		st.Pool = pool.Stats()
		st.OpenConnections = int64(st.Pool.RegisteredHandles)
	}
	if wd != nil {
		st.Watchdog = wd.Stats()
	}
	if exec != nil {
		st.Executor = exec.Stats()
	}
	return st
}

// Shutdown stops accepting, closes every connection and waits for the
// dispatchers and the owned worker pool to stop, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	ln, pool, wd, exec, done, unbind := s.listener, s.pool, s.watchdog, s.ownedExec, s.acceptor, s.unbind
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	_ = ln.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Shutdown(gctx) })
	g.Go(wd.Close)
	if exec != nil {
		g.Go(func() error { return exec.Shutdown(gctx) })
	}
	err := g.Wait()
	for _, fn := range unbind {
		fn()
	}
	s.log.Info("[Server] %s stopped", s.cfg.Name)
	return err
}

// Close shuts down with the configured timeout.
func (s *Server) Close() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

var _ api.GracefulShutdown = (*Server)(nil)
