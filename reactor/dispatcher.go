// File: reactor/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher owns one multiplexer and one goroutine locked to an OS thread.
// Registrations from other goroutines take the guard, wake the multiplexer and
// mutate it; the loop passes the guard once per iteration before waiting again,
// so a pending registration always completes before the next wait.

package reactor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"

	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/pool"
)

const defaultEventBatch = 128

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxHandles caps the number of handles. Zero means unlimited.
func WithMaxHandles(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxHandles = n }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l logger.LLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = logger.OrDefault(l) }
}

// WithEventBatch sets how many readiness events one wait may return.
func WithEventBatch(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batch = n
		}
	}
}

// WithReadBuffer sets the preallocation size and minimum remainder of the
// dispatcher's read memory.
func WithReadBuffer(preallocSize, minSize int) DispatcherOption {
	return func(d *Dispatcher) { d.readBuf = pool.NewReadBuffer(preallocSize, minSize) }
}

// WithCPU pins the dispatcher goroutine's OS thread to cpu. A negative cpu
// disables pinning.
func WithCPU(cpu int) DispatcherOption {
	return func(d *Dispatcher) { d.cpu = cpu }
}

// DispatcherStats is a read-only snapshot of dispatcher counters.
type DispatcherStats struct {
	Name                   string
	Registered             int
	Reserved               int
	HandledRegistrations   int64
	HandledReads           int64
	HandledWrites          int64
	HandledDeregistrations int64
	ReceivedBytes          int64
	SentBytes              int64
	HandlerFaults          int64
	MaxHandles             int
	CPU                    int
	Open                   bool
}

// Dispatcher multiplexes readiness events for its registered handles.
type Dispatcher struct {
	name       string
	mux        Multiplexer
	log        logger.LLogger
	maxHandles int
	batch      int
	cpu        int
	readBuf    *pool.ReadBuffer

	guard  sync.Mutex // registration guard, see package comment
	sealed bool       // under guard: no registrations once shutdown snapshotted

	mu      sync.RWMutex
	handles map[int]*Handle

	reserved atomic.Int64
	closed   atomic.Bool
	started  atomic.Bool

	shutdownOnce sync.Once
	done         chan struct{}

	registrations   atomic.Int64
	reads           atomic.Int64
	writes          atomic.Int64
	deregistrations atomic.Int64
	received        atomic.Int64
	sent            atomic.Int64
	faults          atomic.Int64
}

// NewDispatcher creates an open dispatcher over mux. Run must be called to
// start event processing.
func NewDispatcher(name string, mux Multiplexer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		name:    name,
		mux:     mux,
		log:     logger.DefaultLogger,
		batch:   defaultEventBatch,
		cpu:     -1,
		readBuf: pool.NewReadBuffer(0, 0),
		handles: make(map[int]*Handle),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string { return d.name }

// IsOpen reports whether Close has not been called.
func (d *Dispatcher) IsOpen() bool { return !d.closed.Load() }

// Done is closed once the dispatcher released its multiplexer.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// MaxHandles returns the handle cap, zero meaning unlimited.
func (d *Dispatcher) MaxHandles() int { return d.maxHandles }

// ReadBuffer returns the dispatcher's read memory. It may only be used from
// event callbacks running on this dispatcher.
func (d *Dispatcher) ReadBuffer() *pool.ReadBuffer { return d.readBuf }

// NumRegistered returns the number of registered handles.
func (d *Dispatcher) NumRegistered() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}

// Registered returns a snapshot of the registered handles.
func (d *Dispatcher) Registered() []*Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Values(d.handles)
}

// PreRegister reserves a registration slot. It returns false when the
// dispatcher is closed or registered plus reserved handles reached MaxHandles.
// A successful Register consumes one reservation.
func (d *Dispatcher) PreRegister() bool {
	if d.closed.Load() {
		return false
	}
	for {
		r := d.reserved.Load()
		if d.maxHandles > 0 && d.NumRegistered()+int(r) >= d.maxHandles {
			return false
		}
		if d.reserved.CompareAndSwap(r, r+1) {
			return true
		}
	}
}

// CancelPreRegister releases a reservation that will not be used.
func (d *Dispatcher) CancelPreRegister() { d.releaseReservation() }

func (d *Dispatcher) releaseReservation() {
	for {
		r := d.reserved.Load()
		if r <= 0 || d.reserved.CompareAndSwap(r, r-1) {
			return
		}
	}
}

// Register adds h with the given interest set.
func (d *Dispatcher) Register(h *Handle, ops Op) error {
	if h == nil || !h.IsValid() {
		return api.NewError(api.ErrCodeIO, "register: invalid handle")
	}
	if d.closed.Load() {
		return fmt.Errorf("register on %s: %w", d.name, api.ErrClosed)
	}
	if owner := h.Dispatcher(); owner != nil && owner != d {
		return api.NewError(api.ErrCodeInvalidArgument, "register: handle owned by another dispatcher").
			WithContext("owner", owner.name)
	}

	d.guard.Lock()
	defer d.guard.Unlock()
	if d.sealed || d.closed.Load() {
		return fmt.Errorf("register on %s: %w", d.name, api.ErrClosed)
	}
	_ = d.mux.Wake()

	fd := h.Fd()
	if err := d.mux.Add(fd, ops); err != nil {
		return api.WrapError(api.ErrCodeIO, "register", err).WithContext("fd", fd)
	}
	h.ops.Store(uint32(ops))
	h.dispatcher.Store(d)

	d.mu.Lock()
	d.handles[fd] = h
	d.mu.Unlock()

	d.releaseReservation()
	d.registrations.Add(1)
	d.log.Debug("[Dispatcher %s] registered fd=%d ops=%s", d.name, fd, ops)
	return nil
}

// Deregister removes h. Invalid or foreign handles are ignored.
func (d *Dispatcher) Deregister(h *Handle) {
	if h == nil || h.Dispatcher() != d {
		return
	}
	fd := h.Fd()
	d.mu.RLock()
	cur, ok := d.handles[fd]
	d.mu.RUnlock()
	if !ok || cur != h {
		return
	}

	d.guard.Lock()
	defer d.guard.Unlock()
	if !d.closed.Load() {
		_ = d.mux.Wake()
	}
	if h.IsValid() {
		if err := d.mux.Remove(fd); err != nil {
			d.log.Debug("[Dispatcher %s] deregister fd=%d: %v", d.name, fd, err)
		}
	}

	d.mu.Lock()
	if d.handles[fd] == h {
		delete(d.handles, fd)
	}
	d.mu.Unlock()
	d.deregistrations.Add(1)
}

// UpdateInterestSet replaces the interest set of h.
func (d *Dispatcher) UpdateInterestSet(h *Handle, ops Op) error {
	if h == nil || !h.IsValid() || h.Dispatcher() != d {
		return api.NewError(api.ErrCodeIO, "update interest set: invalid handle")
	}
	if h.Ops() == ops {
		return nil
	}

	d.guard.Lock()
	defer d.guard.Unlock()
	if d.sealed || d.closed.Load() {
		return fmt.Errorf("update interest set on %s: %w", d.name, api.ErrClosed)
	}
	_ = d.mux.Wake()
	if err := d.mux.Modify(h.Fd(), ops); err != nil {
		return api.WrapError(api.ErrCodeIO, "update interest set", err).WithContext("fd", h.Fd())
	}
	h.ops.Store(uint32(ops))
	return nil
}

// AddReceived records bytes read by a handler.
func (d *Dispatcher) AddReceived(n int) { d.received.Add(int64(n)) }

// AddSent records bytes written by a handler.
func (d *Dispatcher) AddSent(n int) { d.sent.Add(int64(n)) }

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Name:                   d.name,
		Registered:             d.NumRegistered(),
		Reserved:               int(d.reserved.Load()),
		HandledRegistrations:   d.registrations.Load(),
		HandledReads:           d.reads.Load(),
		HandledWrites:          d.writes.Load(),
		HandledDeregistrations: d.deregistrations.Load(),
		ReceivedBytes:          d.received.Load(),
		SentBytes:              d.sent.Load(),
		HandlerFaults:          d.faults.Load(),
		MaxHandles:             d.maxHandles,
		CPU:                    d.cpu,
		Open:                   d.IsOpen(),
	}
}

// Run processes events until Close. It is meant to run on its own goroutine.
func (d *Dispatcher) Run() {
	runtime.LockOSThread()
	pinned := false
	if d.cpu >= 0 {
		if err := affinity.SetAffinity(d.cpu); err != nil {
			d.log.Warn("[Dispatcher %s] pin to cpu %d: %v", d.name, d.cpu, err)
		} else {
			pinned = true
		}
	}
	// a pinned thread exits with the goroutine instead of rejoining the scheduler
	defer func() {
		if !pinned {
			runtime.UnlockOSThread()
		}
	}()

	d.started.Store(true)
	defer d.shutdown()

	events := make([]Event, d.batch)
	for !d.closed.Load() {
		// let pending registrations finish before the next wait
		d.guard.Lock()
		d.guard.Unlock() //nolint:staticcheck

		n, err := d.mux.Wait(events, -1)
		if err != nil {
			if d.closed.Load() {
				break
			}
			d.log.Error("[Dispatcher %s] wait: %v", d.name, err)
			time.Sleep(time.Millisecond)
			continue
		}
		for i := 0; i < n; i++ {
			d.mu.RLock()
			h := d.handles[events[i].Fd]
			d.mu.RUnlock()
			if h == nil {
				continue
			}
			d.dispatch(h, events[i])
		}
	}
}

func (d *Dispatcher) dispatch(h *Handle, ev Event) {
	if ev.Ops&OpRead != 0 || ev.Hangup {
		d.reads.Add(1)
		if err := invoke(func() error { return h.handler.OnReadable(h) }); err != nil {
			d.fail(h, err)
			return
		}
	}
	if ev.Ops&OpWrite != 0 && h.IsValid() && h.Dispatcher() == d {
		d.writes.Add(1)
		if err := invoke(func() error { return h.handler.OnWritable(h) }); err != nil {
			d.fail(h, err)
		}
	}
}

// fail deregisters h, closes its channel and reports err to its handler.
func (d *Dispatcher) fail(h *Handle, err error) {
	d.faults.Add(1)
	d.log.Warn("[Dispatcher %s] fd=%d failed: %v", d.name, h.Fd(), err)
	d.Deregister(h)
	_ = h.Close()
	if perr := invoke(func() error { h.handler.OnError(h, err); return nil }); perr != nil {
		d.log.Error("[Dispatcher %s] OnError fd=%d: %v", d.name, h.Fd(), perr)
	}
}

// invoke runs fn, converting a panic into an api.ErrHandlerFault error.
func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.NewError(api.ErrCodeHandlerFault, fmt.Sprintf("panic: %v", r))
		}
	}()
	return fn()
}

func (d *Dispatcher) shutdown() {
	d.shutdownOnce.Do(func() {
		// registrations that won the guard before this point are in the snapshot
		d.guard.Lock()
		d.sealed = true
		remaining := d.Registered()
		d.guard.Unlock()
		for _, h := range remaining {
			if perr := invoke(func() error { h.handler.OnDispatcherClosing(h); return nil }); perr != nil {
				d.log.Error("[Dispatcher %s] OnDispatcherClosing fd=%d: %v", d.name, h.Fd(), perr)
			}
		}
		d.guard.Lock()
		if err := d.mux.Close(); err != nil {
			d.log.Warn("[Dispatcher %s] closing multiplexer: %v", d.name, err)
		}
		d.guard.Unlock()
		d.log.Info("[Dispatcher %s] closed", d.name)
		close(d.done)
	})
}

// Close stops the dispatcher. It is idempotent and does not wait; use Done.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d.started.Load() {
		return d.mux.Wake()
	}
	d.shutdown()
	return nil
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("%s(registered=%d)", d.name, d.NumRegistered())
}
