// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-nio/adapters"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/connection"
	"github.com/momentics/hioload-nio/core/watchdog"
	"github.com/momentics/hioload-nio/handler"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/reactor"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Network            string        // "tcp", "tcp4", "tcp6" or "unix"
	ListenAddr         string        // bind address, e.g. ":9000"
	Name               string        // dispatcher pool name
	DispatcherSize     int           // initial number of dispatchers
	MaxHandles         int           // per dispatcher, 0 = unlimited
	EventBatch         int           // readiness events per wait
	ReadBufferPrealloc int           // dispatcher read memory chunk
	ReadBufferMin      int           // smallest remainder reused for reads
	IdleTimeout        time.Duration // 0 disables
	ConnectionTimeout  time.Duration // 0 disables
	ExecutorWorkers    int           // workers for multithreaded handlers
	ShutdownTimeout    time.Duration // graceful shutdown timeout
	TraceConnections   bool          // log every handler event
	PinDispatchers     bool          // pin dispatcher threads to allowed CPUs
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network:            "tcp",
		ListenAddr:         ":9000",
		Name:               "server",
		DispatcherSize:     2,
		MaxHandles:         0,
		EventBatch:         128,
		ReadBufferPrealloc: 64 * 1024,
		ReadBufferMin:      64,
		IdleTimeout:        0,
		ConnectionTimeout:  0,
		ExecutorWorkers:    4,
		ShutdownTimeout:    30 * time.Second,
	}
}

// Stats is a read-only snapshot of the server state.
type Stats struct {
	Addr            string
	Accepted        int64
	AcceptErrors    int64
	OpenConnections int64
	Pool            reactor.PoolStats
	Watchdog        watchdog.Stats
	Executor        adapters.ExecutorStats
}

// Server accepts connections and hands them to a dispatcher pool.
type Server struct {
	cfg          *Config
	chain        *handler.Chain
	log          logger.LLogger
	control      *adapters.ControlAdapter
	executor     api.Executor
	poolOpts     []reactor.PoolOption
	connOpts     []connection.Option
	codecFactory func() api.Codec

	mu        sync.Mutex
	listener  net.Listener
	pool      *reactor.DispatcherPool
	watchdog  *watchdog.Watchdog
	ownedExec *adapters.ExecutorAdapter
	acceptor  chan struct{}
	unbind    []func()

	running      atomic.Bool
	stopping     atomic.Bool
	accepted     atomic.Int64
	acceptErrors atomic.Int64
}
