// File: fake/multiplexer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel-based multiplexer for tests. Readiness is injected with Fire.

package fake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-nio/reactor"
)

var ErrMultiplexerClosed = errors.New("fake multiplexer closed")

// Multiplexer implements reactor.Multiplexer without touching the OS.
type Multiplexer struct {
	mu       sync.Mutex
	interest map[int]reactor.Op
	ready    map[int]reactor.Op
	closed   bool

	wakeCh  chan struct{}
	waiting atomic.Int32
	wakes   atomic.Int64
}

// NewMultiplexer creates an empty fake multiplexer.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		interest: make(map[int]reactor.Op),
		ready:    make(map[int]reactor.Op),
		wakeCh:   make(chan struct{}, 1),
	}
}

// Factory returns a reactor.MultiplexerFactory producing fakes.
func Factory() reactor.MultiplexerFactory {
	return func() (reactor.Multiplexer, error) { return NewMultiplexer(), nil }
}

func (m *Multiplexer) Add(fd int, ops reactor.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMultiplexerClosed
	}
	if _, ok := m.interest[fd]; ok {
		return errors.New("fd already added")
	}
	m.interest[fd] = ops
	return nil
}

func (m *Multiplexer) Modify(fd int, ops reactor.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interest[fd]; !ok {
		return errors.New("fd not added")
	}
	m.interest[fd] = ops
	return nil
}

func (m *Multiplexer) Remove(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.interest, fd)
	delete(m.ready, fd)
	return nil
}

// Fire marks fd ready for ops and wakes a blocked Wait.
func (m *Multiplexer) Fire(fd int, ops reactor.Op) {
	m.mu.Lock()
	m.ready[fd] |= ops
	m.mu.Unlock()
	m.signal()
}

// Interest returns the interest set of fd and whether it is added.
func (m *Multiplexer) Interest(fd int) (reactor.Op, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops, ok := m.interest[fd]
	return ops, ok
}

// Waiting reports how many goroutines are blocked in Wait.
func (m *Multiplexer) Waiting() int { return int(m.waiting.Load()) }

// Wakes returns how many times Wake was called.
func (m *Multiplexer) Wakes() int64 { return m.wakes.Load() }

// IsClosed reports whether Close was called.
func (m *Multiplexer) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Multiplexer) collect(events []reactor.Event) int {
	n := 0
	for fd, ops := range m.ready {
		if n == len(events) {
			break
		}
		want := ops & m.interest[fd]
		if want == 0 {
			continue
		}
		events[n] = reactor.Event{Fd: fd, Ops: want}
		n++
		m.ready[fd] &^= want
		if m.ready[fd] == 0 {
			delete(m.ready, fd)
		}
	}
	return n
}

func (m *Multiplexer) Wait(events []reactor.Event, timeout time.Duration) (int, error) {
	m.waiting.Add(1)
	defer m.waiting.Add(-1)

	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrMultiplexerClosed
	}
	n := m.collect(events)
	m.mu.Unlock()
	if n > 0 {
		return n, nil
	}
	select {
	case <-m.wakeCh:
	case <-timer:
	}
	return 0, nil
}

func (m *Multiplexer) signal() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *Multiplexer) Wake() error {
	m.wakes.Add(1)
	m.signal()
	return nil
}

func (m *Multiplexer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
	return nil
}

// Channel is a fake reactor.Channel with a synthetic descriptor.
type Channel struct {
	fd     int
	closed atomic.Bool
}

var nextFd atomic.Int64

// NewChannel returns a channel with a unique synthetic descriptor.
func NewChannel() *Channel {
	return &Channel{fd: int(1_000_000 + nextFd.Add(1))}
}

func (c *Channel) Fd() int        { return c.fd }
func (c *Channel) Close() error   { c.closed.Store(true); return nil }
func (c *Channel) IsClosed() bool { return c.closed.Load() }
