// File: reactor/multiplexer.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness multiplexer used by a Dispatcher.

package reactor

import "time"

// Op is a set of interest or readiness operations.
type Op uint32

const (
	OpRead Op = 1 << iota
	OpWrite
)

// Has reports whether every bit of o is set.
func (op Op) Has(o Op) bool { return op&o == o }

func (op Op) String() string {
	switch op {
	case 0:
		return "none"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpRead | OpWrite:
		return "read|write"
	}
	return "invalid"
}

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd  int
	Ops Op
	// Hangup is set for peer hangup or socket error conditions. The
	// dispatcher treats it as readable so the read path observes EOF.
	Hangup bool
}

// Multiplexer is an OS readiness facility (epoll, kqueue, ...).
// Add, Modify and Remove may be called from any goroutine while Wait blocks.
type Multiplexer interface {
	Add(fd int, ops Op) error
	Modify(fd int, ops Op) error
	Remove(fd int) error

	// Wait blocks until readiness, Wake or timeout and fills events.
	// A negative timeout blocks indefinitely.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Wake interrupts a blocked Wait. Safe from any goroutine.
	Wake() error

	Close() error
}

// MultiplexerFactory creates the multiplexer for a new dispatcher.
type MultiplexerFactory func() (Multiplexer, error)
