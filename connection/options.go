// File: connection/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"time"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/core/watchdog"
	"github.com/momentics/hioload-nio/internal/logger"
)

type options struct {
	executor          api.Executor
	watchdog          *watchdog.Watchdog
	idleTimeout       time.Duration
	connectionTimeout time.Duration
	codec             api.Codec
	autoFlush         bool
	maxReadsPerEvent  int
	maxReadBuffer     int
	log               logger.LLogger
}

func defaultOptions() options {
	return options{
		autoFlush:        true,
		maxReadsPerEvent: 8,
		log:              logger.DefaultLogger,
	}
}

// Option configures a connection.
type Option func(*options)

// WithExecutor sets the worker pool used by multithreaded handlers. Without
// one, multithreaded callbacks run on their own goroutine.
func WithExecutor(e api.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithWatchdog enables idle and connection timeouts.
func WithWatchdog(w *watchdog.Watchdog) Option {
	return func(o *options) { o.watchdog = w }
}

// WithIdleTimeout sets the initial idle timeout. It needs WithWatchdog.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithConnectionTimeout sets the initial connection timeout. It needs
// WithWatchdog.
func WithConnectionTimeout(d time.Duration) Option {
	return func(o *options) { o.connectionTimeout = d }
}

// WithCodec transforms bytes between the socket and the application.
func WithCodec(c api.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithAutoFlush controls whether every Write flushes. Default true.
func WithAutoFlush(on bool) Option {
	return func(o *options) { o.autoFlush = on }
}

// WithMaxReadsPerEvent bounds the socket reads done for one readiness event.
func WithMaxReadsPerEvent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReadsPerEvent = n
		}
	}
}

// WithMaxReadBufferThreshold pauses socket reads while at least n bytes
// wait in the receive queue. n <= 0 means unlimited, the default.
func WithMaxReadBufferThreshold(n int) Option {
	return func(o *options) { o.maxReadBuffer = max(n, 0) }
}

// WithLogger sets the logger.
func WithLogger(l logger.LLogger) Option {
	return func(o *options) { o.log = logger.OrDefault(l) }
}
