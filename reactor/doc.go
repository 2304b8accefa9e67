// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the event dispatcher, the dispatcher pool and the
// readiness multiplexer abstraction with its epoll (Linux) implementation.
package reactor
