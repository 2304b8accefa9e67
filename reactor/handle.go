// File: reactor/handle.go
// Author: momentics <momentics@gmail.com>
//
// Channel handle: the unit registered with a Dispatcher.

package reactor

import (
	"sync"
	"sync/atomic"
)

// Channel is the OS-level endpoint behind a handle.
type Channel interface {
	Fd() int
	Close() error
}

// EventHandler receives the events of one handle. All callbacks run on the
// goroutine of the owning dispatcher.
type EventHandler interface {
	// OnReadable is called when the channel has data or reached EOF.
	OnReadable(h *Handle) error
	// OnWritable is called when the channel accepts writes and write interest is set.
	OnWritable(h *Handle) error
	// OnDispatcherClosing is called for every handle still registered when
	// the dispatcher shuts down.
	OnDispatcherClosing(h *Handle)
	// OnError is called after the dispatcher deregistered the handle and
	// closed its channel because a callback failed or panicked.
	OnError(h *Handle, err error)
}

// Handle binds a channel to its event handler and, once registered, to
// exactly one dispatcher. A handle never migrates between dispatchers.
type Handle struct {
	ch      Channel
	handler EventHandler

	ops        atomic.Uint32
	dispatcher atomic.Pointer[Dispatcher]
	valid      atomic.Bool

	closeOnce sync.Once
	closeErr  error

	attachment atomic.Value
}

// NewHandle creates a valid, unregistered handle.
func NewHandle(ch Channel, handler EventHandler) *Handle {
	h := &Handle{ch: ch, handler: handler}
	h.valid.Store(ch != nil && ch.Fd() >= 0)
	return h
}

// Fd returns the channel descriptor.
func (h *Handle) Fd() int { return h.ch.Fd() }

// Channel returns the underlying channel.
func (h *Handle) Channel() Channel { return h.ch }

// Handler returns the attached event handler.
func (h *Handle) Handler() EventHandler { return h.handler }

// Ops returns the current interest set.
func (h *Handle) Ops() Op { return Op(h.ops.Load()) }

// Dispatcher returns the owning dispatcher, or nil before registration.
func (h *Handle) Dispatcher() *Dispatcher { return h.dispatcher.Load() }

// IsValid reports whether the channel is still usable.
func (h *Handle) IsValid() bool { return h.valid.Load() }

// Attach stores an arbitrary value on the handle.
func (h *Handle) Attach(v any) { h.attachment.Store(&v) }

// Attachment returns the value stored by Attach.
func (h *Handle) Attachment() any {
	if p, ok := h.attachment.Load().(*any); ok {
		return *p
	}
	return nil
}

// Close invalidates the handle and closes its channel once.
func (h *Handle) Close() error {
	h.valid.Store(false)
	h.closeOnce.Do(func() {
		if h.ch != nil {
			h.closeErr = h.ch.Close()
		}
	})
	return h.closeErr
}
