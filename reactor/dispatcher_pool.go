// File: reactor/dispatcher_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DispatcherPool assigns new handles to dispatchers round-robin. When every
// dispatcher declines a reservation the pool grows by one and retries.

package reactor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/logger"
)

// PoolListener is notified when the pool adds or removes a dispatcher.
type PoolListener interface {
	OnDispatcherAdded(d *Dispatcher)
	OnDispatcherRemoved(d *Dispatcher)
}

// PoolOption configures a DispatcherPool.
type PoolOption func(*DispatcherPool)

// WithMultiplexerFactory replaces the native multiplexer constructor.
func WithMultiplexerFactory(f MultiplexerFactory) PoolOption {
	return func(p *DispatcherPool) {
		if f != nil {
			p.factory = f
		}
	}
}

// WithDispatcherOptions applies opts to every dispatcher the pool creates.
func WithDispatcherOptions(opts ...DispatcherOption) PoolOption {
	return func(p *DispatcherPool) { p.dispatcherOpts = append(p.dispatcherOpts, opts...) }
}

// WithCPUAffinity pins the n-th dispatcher the pool creates to
// cpus[n%len(cpus)].
func WithCPUAffinity(cpus []int) PoolOption {
	return func(p *DispatcherPool) { p.cpus = slices.Clone(cpus) }
}

// WithPoolLogger sets the logger of the pool and its dispatchers.
func WithPoolLogger(l logger.LLogger) PoolOption {
	return func(p *DispatcherPool) { p.log = logger.OrDefault(l) }
}

// PoolStats aggregates the counters of all dispatchers.
type PoolStats struct {
	Name              string
	Size              int
	RegisteredHandles int
	HandledReads      int64
	HandledWrites     int64
	ReceivedBytes     int64
	SentBytes         int64
	Dispatchers       []DispatcherStats
}

// DispatcherPool owns a resizable set of running dispatchers.
type DispatcherPool struct {
	name           string
	factory        MultiplexerFactory
	dispatcherOpts []DispatcherOption
	cpus           []int
	log            logger.LLogger

	mu          sync.Mutex
	dispatchers []*Dispatcher
	size        int
	seq         int
	listeners   []PoolListener
	stopped     []*Dispatcher

	pointer  atomic.Uint64
	closed   atomic.Bool
	accepted atomic.Int64
	lastRate atomic.Int64
}

// NewDispatcherPool starts size dispatchers.
func NewDispatcherPool(name string, size int, opts ...PoolOption) (*DispatcherPool, error) {
	p := &DispatcherPool{
		name:    name,
		factory: NewMultiplexer,
		log:     logger.DefaultLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastRate.Store(time.Now().UnixNano())
	if err := p.SetSize(size); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Name returns the pool name.
func (p *DispatcherPool) Name() string { return p.name }

// IsOpen reports whether Close has not been called.
func (p *DispatcherPool) IsOpen() bool { return !p.closed.Load() }

// AddListener registers l for add/remove notifications.
func (p *DispatcherPool) AddListener(l PoolListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// RemoveListener unregisters l and reports whether it was registered.
func (p *DispatcherPool) RemoveListener(l PoolListener) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.listeners, l)
	if i < 0 {
		return false
	}
	p.listeners = slices.Delete(p.listeners, i, i+1)
	return true
}

// NextDispatcher returns a dispatcher holding a reservation for one handle.
// The caller must Register on it, or CancelPreRegister.
func (p *DispatcherPool) NextDispatcher() (*Dispatcher, error) {
	for {
		if p.closed.Load() {
			return nil, fmt.Errorf("dispatcher pool %s: %w", p.name, api.ErrClosed)
		}
		ds := p.Dispatchers()
		n := len(ds)
		for i := 0; i < n; i++ {
			d := ds[int(p.pointer.Add(1)%uint64(n))]
			if d.PreRegister() {
				return d, nil
			}
		}
		// every dispatcher declined
		if err := p.grow(n); err != nil {
			return nil, err
		}
	}
}

// grow adds one dispatcher unless another caller already grew past seen.
func (p *DispatcherPool) grow(seen int) error {
	p.mu.Lock()
	if len(p.dispatchers) > seen {
		p.mu.Unlock()
		return nil
	}
	p.log.Info("[DispatcherPool %s] all %d dispatchers full, growing", p.name, seen)
	p.size = seen + 1
	added, removed, err := p.update()
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()
	p.notify(listeners, added, removed)
	return err
}

// SetSize starts or stops dispatchers until n are running.
func (p *DispatcherPool) SetSize(n int) error {
	if n < 1 {
		return api.NewError(api.ErrCodeInvalidArgument, "dispatcher pool size must be positive").WithContext("size", n)
	}
	if p.closed.Load() {
		return fmt.Errorf("dispatcher pool %s: %w", p.name, api.ErrClosed)
	}
	p.mu.Lock()
	p.size = n
	added, removed, err := p.update()
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()
	p.notify(listeners, added, removed)
	return err
}

// update reconciles the running dispatchers with size. Called with mu held.
func (p *DispatcherPool) update() (added, removed []*Dispatcher, err error) {
	for len(p.dispatchers) > p.size {
		last := p.dispatchers[len(p.dispatchers)-1]
		p.dispatchers = p.dispatchers[:len(p.dispatchers)-1]
		if cerr := last.Close(); cerr != nil {
			p.log.Debug("[DispatcherPool %s] closing %s: %v", p.name, last.Name(), cerr)
		}
		removed = append(removed, last)
	}
	for len(p.dispatchers) < p.size {
		mux, merr := p.factory()
		if merr != nil {
			return added, removed, api.WrapError(api.ErrCodeIO, "create dispatcher", merr).WithContext("pool", p.name)
		}
		opts := append([]DispatcherOption{WithDispatcherLogger(p.log)}, p.dispatcherOpts...)
		if len(p.cpus) > 0 {
			opts = append(opts, WithCPU(p.cpus[p.seq%len(p.cpus)]))
		}
		d := NewDispatcher(fmt.Sprintf("%s#%d", p.name, p.seq), mux, opts...)
		p.seq++
		go d.Run()
		p.dispatchers = append(p.dispatchers, d)
		added = append(added, d)
	}
	return added, removed, nil
}

func (p *DispatcherPool) notify(listeners []PoolListener, added, removed []*Dispatcher) {
	for _, l := range listeners {
		for _, d := range added {
			l.OnDispatcherAdded(d)
		}
		for _, d := range removed {
			l.OnDispatcherRemoved(d)
		}
	}
}

// Size returns the number of running dispatchers.
func (p *DispatcherPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dispatchers)
}

// Dispatchers returns a snapshot of the running dispatchers.
func (p *DispatcherPool) Dispatchers() []*Dispatcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.dispatchers)
}

// IncAccepted counts one accepted connection for AcceptedRatePerSec.
func (p *DispatcherPool) IncAccepted() { p.accepted.Add(1) }

// AcceptedRatePerSec returns accepted connections per second since the
// previous call and resets the counter.
func (p *DispatcherPool) AcceptedRatePerSec() float64 {
	now := time.Now().UnixNano()
	last := p.lastRate.Swap(now)
	accepted := p.accepted.Swap(0)
	if accepted == 0 {
		return 0
	}
	elapsed := now - last
	if elapsed <= 0 {
		return math.MaxInt32
	}
	return float64(accepted) * float64(time.Second) / float64(elapsed)
}

// NumRegisteredHandles sums registered handles over all dispatchers.
func (p *DispatcherPool) NumRegisteredHandles() int {
	n := 0
	for _, d := range p.Dispatchers() {
		n += d.NumRegistered()
	}
	return n
}

// Stats returns aggregated counters.
func (p *DispatcherPool) Stats() PoolStats {
	st := PoolStats{Name: p.name}
	for _, d := range p.Dispatchers() {
		ds := d.Stats()
		st.Size++
		st.RegisteredHandles += ds.Registered
		st.HandledReads += ds.HandledReads
		st.HandledWrites += ds.HandledWrites
		st.ReceivedBytes += ds.ReceivedBytes
		st.SentBytes += ds.SentBytes
		st.Dispatchers = append(st.Dispatchers, ds)
	}
	return st
}

// Close stops all dispatchers. It is idempotent and does not wait.
func (p *DispatcherPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	removed := p.dispatchers
	p.dispatchers = nil
	p.stopped = removed
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, d := range removed {
		_ = d.Close()
	}
	p.notify(listeners, nil, removed)
}

// Shutdown closes the pool and waits until every dispatcher released its
// multiplexer or ctx is done.
func (p *DispatcherPool) Shutdown(ctx context.Context) error {
	p.Close()
	p.mu.Lock()
	ds := slices.Clone(p.stopped)
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range ds {
		g.Go(func() error {
			select {
			case <-d.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("dispatcher %s: %w", d.Name(), ctx.Err())
			}
		})
	}
	return g.Wait()
}
