// File: connection/blocking.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Blocking view over a NonBlocking connection for request/response style
// clients. The wrapped connection should not have data handlers that
// consume the receive queue.

package connection

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-nio/api"
)

// DefaultReadTimeout bounds blocking reads unless changed.
const DefaultReadTimeout = time.Minute

// Blocking waits for data instead of returning api.ErrBufferUnderflow.
type Blocking struct {
	*NonBlocking
	readTimeout atomic.Int64
}

// NewBlocking wraps nb. readTimeout <= 0 waits without limit.
func NewBlocking(nb *NonBlocking, readTimeout time.Duration) *Blocking {
	b := &Blocking{NonBlocking: nb}
	b.readTimeout.Store(int64(readTimeout))
	return b
}

// SetReadTimeout changes the read timeout for subsequent reads.
func (b *Blocking) SetReadTimeout(d time.Duration) { b.readTimeout.Store(int64(d)) }

// ReadTimeout returns the read timeout.
func (b *Blocking) ReadTimeout() time.Duration { return time.Duration(b.readTimeout.Load()) }

// await retries read until it stops reporting underflow, the connection
// closes or the read timeout elapses.
func (b *Blocking) await(op string, read func() error) error {
	var deadline <-chan time.Time
	if d := b.ReadTimeout(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		deadline = t.C
	}
	for {
		err := read()
		if !errors.Is(err, api.ErrBufferUnderflow) {
			return err
		}
		if !b.IsOpen() {
			return b.closedError(op)
		}
		select {
		case <-b.arrived:
		case <-b.closed:
		case <-deadline:
			return api.NewError(api.ErrCodeTimeout, fmt.Sprintf("%s: no data within %s", op, b.ReadTimeout())).
				WithContext("conn", b.id)
		}
	}
}

// ReadBytesByDelimiter blocks until the record is complete.
func (b *Blocking) ReadBytesByDelimiter(delim []byte, maxLen int) (out []byte, err error) {
	err = b.await("read by delimiter", func() (e error) {
		out, e = b.NonBlocking.ReadBytesByDelimiter(delim, maxLen)
		return e
	})
	return out, err
}

// ReadStringByDelimiter blocks until the record is complete.
func (b *Blocking) ReadStringByDelimiter(delim string, maxLen int) (string, error) {
	out, err := b.ReadBytesByDelimiter([]byte(delim), maxLen)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ReadBytesByLength blocks until n bytes are available.
func (b *Blocking) ReadBytesByLength(n int) (out []byte, err error) {
	err = b.await("read by length", func() (e error) {
		out, e = b.NonBlocking.ReadBytesByLength(n)
		return e
	})
	return out, err
}

// ReadAvailable blocks until at least one byte is available.
func (b *Blocking) ReadAvailable() (out []byte, err error) {
	err = b.await("read available", func() (e error) {
		out, e = b.NonBlocking.ReadAvailable()
		return e
	})
	return out, err
}
