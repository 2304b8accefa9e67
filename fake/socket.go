// File: fake/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory non-blocking socket for connection tests. Inbound data and
// write capacity are controlled by the test; readiness is reported through
// the fake multiplexer the way a level-triggered poller would.

package fake

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/momentics/hioload-nio/reactor"
)

// ErrSocketClosed is returned by operations on a closed fake socket.
var ErrSocketClosed = errors.New("fake socket closed")

// Socket is a fake non-blocking stream socket.
type Socket struct {
	*Channel
	mux *Multiplexer

	mu         sync.Mutex
	in         bytes.Buffer
	out        bytes.Buffer
	eof        bool
	capacity   int // remaining write capacity, -1 unlimited
	readErr    error
	writeCalls int
}

// NewSocket creates a socket reporting readiness to mux. mux may be nil.
func NewSocket(mux *Multiplexer) *Socket {
	return &Socket{Channel: NewChannel(), mux: mux, capacity: -1}
}

func (s *Socket) fire(ops reactor.Op) {
	if s.mux != nil {
		s.mux.Fire(s.Fd(), ops)
	}
}

// Feed makes data readable.
func (s *Socket) Feed(data []byte) {
	s.mu.Lock()
	s.in.Write(data)
	s.mu.Unlock()
	s.fire(reactor.OpRead)
}

// FeedString makes str readable.
func (s *Socket) FeedString(str string) { s.Feed([]byte(str)) }

// CloseRemote simulates the peer closing its side.
func (s *Socket) CloseRemote() {
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
	s.fire(reactor.OpRead)
}

// FailReads makes the next read return err.
func (s *Socket) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	s.fire(reactor.OpRead)
}

// SetWriteCapacity limits how many more bytes writes accept; -1 removes
// the limit. Raising it reports the socket writable.
func (s *Socket) SetWriteCapacity(n int) {
	s.mu.Lock()
	s.capacity = n
	s.mu.Unlock()
	if n != 0 {
		s.fire(reactor.OpWrite)
	}
}

// Written returns everything written so far.
func (s *Socket) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.out.Bytes())
}

// WriteCalls returns how many Write calls reached the socket.
func (s *Socket) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCalls
}

// Read returns (0, nil) when no data is available and io.EOF after
// CloseRemote once the inbound data is consumed.
func (s *Socket) Read(p []byte) (int, error) {
	if s.IsClosed() {
		return 0, ErrSocketClosed
	}
	s.mu.Lock()
	if err := s.readErr; err != nil {
		s.readErr = nil
		s.mu.Unlock()
		return 0, err
	}
	if s.in.Len() == 0 {
		eof := s.eof
		s.mu.Unlock()
		if eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	n, _ := s.in.Read(p)
	more := s.in.Len() > 0 || s.eof
	s.mu.Unlock()
	if more {
		s.fire(reactor.OpRead)
	}
	return n, nil
}

// Write accepts up to the remaining capacity and returns (0, nil) when full.
func (s *Socket) Write(p []byte) (int, error) {
	if s.IsClosed() {
		return 0, ErrSocketClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	n := len(p)
	if s.capacity >= 0 && n > s.capacity {
		n = s.capacity
	}
	s.out.Write(p[:n])
	if s.capacity >= 0 {
		s.capacity -= n
	}
	return n, nil
}
