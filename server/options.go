// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-nio/adapters"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/connection"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/reactor"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithDispatcherSize sets the initial number of dispatchers.
func WithDispatcherSize(n int) ServerOption {
	return func(s *Server) {
		s.cfg.DispatcherSize = n
	}
}

// WithMaxHandles caps the handles per dispatcher. The pool grows when all
// dispatchers are full.
func WithMaxHandles(n int) ServerOption {
	return func(s *Server) {
		s.cfg.MaxHandles = n
	}
}

// WithIdleTimeout sets the idle timeout of accepted connections.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.cfg.IdleTimeout = d
	}
}

// WithConnectionTimeout sets the connection timeout of accepted connections.
func WithConnectionTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.cfg.ConnectionTimeout = d
	}
}

// WithExecutor runs multithreaded handlers on e instead of a server-owned
// worker pool. The server does not close e.
func WithExecutor(e api.Executor) ServerOption {
	return func(s *Server) {
		s.executor = e
	}
}

// WithExecutorWorkers sets the size of the server-owned worker pool.
func WithExecutorWorkers(n int) ServerOption {
	return func(s *Server) {
		s.cfg.ExecutorWorkers = n
	}
}

// WithLogger sets the logger of the server and everything it creates.
func WithLogger(l logger.LLogger) ServerOption {
	return func(s *Server) {
		s.log = logger.OrDefault(l)
	}
}

// WithControl shares a control adapter, e.g. between several servers.
func WithControl(c *adapters.ControlAdapter) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.control = c
		}
	}
}

// WithCodecFactory gives every accepted connection its own codec.
func WithCodecFactory(f func() api.Codec) ServerOption {
	return func(s *Server) {
		s.codecFactory = f
	}
}

// WithPoolOptions passes extra options to the dispatcher pool.
func WithPoolOptions(opts ...reactor.PoolOption) ServerOption {
	return func(s *Server) {
		s.poolOpts = append(s.poolOpts, opts...)
	}
}

// WithConnectionOptions passes extra options to every accepted connection.
func WithConnectionOptions(opts ...connection.Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}
