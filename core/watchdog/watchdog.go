// File: core/watchdog/watchdog.go
// Package watchdog enforces idle and connection timeouts for registered
// targets from a single timer goroutine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registrations hold targets through weak pointers only. A target that is
// otherwise unreachable is collected and its registration is pruned on the
// next scan.

package watchdog

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/momentics/hioload-nio/internal/logger"
)

const (
	// DefaultPeriod is the scan period before any timeout is requested.
	DefaultPeriod = 5 * time.Minute

	periodSplitThreshold = 500 * time.Millisecond
)

// Target is a watched object, usually a connection.
type Target interface {
	IsOpen() bool
	// OnIdleTimeout reports whether the target handled the timeout itself.
	OnIdleTimeout() bool
	// OnConnectionTimeout reports whether the target handled the timeout itself.
	OnConnectionTimeout() bool
	Close() error
}

// PeriodFor returns the scan period that enforces timeout d with bounded lag.
func PeriodFor(d time.Duration) time.Duration {
	if d > periodSplitThreshold {
		return d / 5
	}
	return d
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the logger.
func WithLogger(l logger.LLogger) Option {
	return func(w *Watchdog) { w.log = logger.OrDefault(l) }
}

// WithPeriod sets the initial scan period.
func WithPeriod(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.period.Store(int64(d))
		}
	}
}

// Stats is a snapshot of watchdog counters.
type Stats struct {
	Watched            int
	Period             time.Duration
	Registrations      int64
	IdleTimeouts       int64
	ConnectionTimeouts int64
	Pruned             int64
}

// Watchdog scans its registrations periodically.
type Watchdog struct {
	log logger.LLogger

	mu   sync.Mutex
	regs map[*Registration]struct{}

	period   atomic.Int64
	periodCh chan struct{}

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	registrations atomic.Int64
	idleTimeouts  atomic.Int64
	connTimeouts  atomic.Int64
	pruned        atomic.Int64
}

// New starts a watchdog.
func New(opts ...Option) *Watchdog {
	w := &Watchdog{
		log:      logger.DefaultLogger,
		regs:     make(map[*Registration]struct{}),
		periodCh: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.period.Store(int64(DefaultPeriod))
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Watch registers target. The registration references target weakly.
func Watch[T any, P interface {
	*T
	Target
}](w *Watchdog, target P) *Registration {
	wp := weak.Make((*T)(target))
	now := time.Now()
	r := &Registration{
		w:        w,
		openedAt: now,
		target: func() Target {
			p := wp.Value()
			if p == nil {
				return nil
			}
			return P(p)
		},
	}
	r.lastActivity.Store(now.UnixNano())

	w.mu.Lock()
	w.regs[r] = struct{}{}
	w.mu.Unlock()
	w.registrations.Add(1)
	return r
}

// Period returns the current scan period.
func (w *Watchdog) Period() time.Duration { return time.Duration(w.period.Load()) }

// RequestPeriod lowers the scan period to d if d is shorter than the current one.
func (w *Watchdog) RequestPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	for {
		cur := w.period.Load()
		if int64(d) >= cur {
			return
		}
		if w.period.CompareAndSwap(cur, int64(d)) {
			w.log.Debug("[Watchdog] period lowered to %s", d)
			select {
			case w.periodCh <- struct{}{}:
			default:
			}
			return
		}
	}
}

// Len returns the number of live registrations.
func (w *Watchdog) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.regs)
}

// Stats returns a snapshot of the counters.
func (w *Watchdog) Stats() Stats {
	return Stats{
		Watched:            w.Len(),
		Period:             w.Period(),
		Registrations:      w.registrations.Load(),
		IdleTimeouts:       w.idleTimeouts.Load(),
		ConnectionTimeouts: w.connTimeouts.Load(),
		Pruned:             w.pruned.Load(),
	}
}

func (w *Watchdog) remove(r *Registration) {
	w.mu.Lock()
	delete(w.regs, r)
	w.mu.Unlock()
}

func (w *Watchdog) snapshot() []*Registration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Registration, 0, len(w.regs))
	for r := range w.regs {
		out = append(out, r)
	}
	return out
}

// Scan checks every registration once. It runs on the timer goroutine and
// may be called directly.
func (w *Watchdog) Scan() {
	now := time.Now()
	for _, r := range w.snapshot() {
		if r.cancelled.Load() {
			w.remove(r)
			continue
		}
		t := r.target()
		if t == nil || !t.IsOpen() {
			w.remove(r)
			w.pruned.Add(1)
			continue
		}
		w.check(r, t, now)
	}
}

func (w *Watchdog) check(r *Registration, t Target, now time.Time) {
	closeIt := false

	if idle := r.IdleTimeout(); idle > 0 && now.Sub(r.LastActivity()) >= idle &&
		r.idleFired.CompareAndSwap(false, true) {
		w.idleTimeouts.Add(1)
		if !w.fire(t.OnIdleTimeout) {
			closeIt = true
		}
	}
	if conn := r.ConnectionTimeout(); conn > 0 && now.Sub(r.openedAt) >= conn &&
		r.connFired.CompareAndSwap(false, true) {
		w.connTimeouts.Add(1)
		if !w.fire(t.OnConnectionTimeout) {
			closeIt = true
		}
	}

	if closeIt {
		if err := t.Close(); err != nil {
			w.log.Debug("[Watchdog] closing timed out target: %v", err)
		}
		w.remove(r)
	}
}

// fire runs a timeout callback; a panic counts as not handled.
func (w *Watchdog) fire(cb func() bool) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			w.log.Error("[Watchdog] timeout callback panic: %v", rec)
			handled = false
		}
	}()
	return cb()
}

func (w *Watchdog) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.Period())
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-w.periodCh:
			ticker.Reset(w.Period())
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Close stops the timer goroutine and waits for it to exit.
func (w *Watchdog) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	<-w.done
	return nil
}

// Registration is the watchdog entry of one target.
type Registration struct {
	w        *Watchdog
	target   func() Target
	openedAt time.Time

	lastActivity atomic.Int64
	idleTimeout  atomic.Int64
	connTimeout  atomic.Int64
	idleFired    atomic.Bool
	connFired    atomic.Bool
	cancelled    atomic.Bool
}

// Touch records activity and re-arms the idle timeout.
func (r *Registration) Touch() {
	r.lastActivity.Store(time.Now().UnixNano())
	r.idleFired.Store(false)
}

// OpenedAt returns the registration time.
func (r *Registration) OpenedAt() time.Time { return r.openedAt }

// LastActivity returns the time of the last Touch.
func (r *Registration) LastActivity() time.Time { return time.Unix(0, r.lastActivity.Load()) }

// IdleTimeout returns the idle timeout, zero when disabled.
func (r *Registration) IdleTimeout() time.Duration { return time.Duration(r.idleTimeout.Load()) }

// ConnectionTimeout returns the connection timeout, zero when disabled.
func (r *Registration) ConnectionTimeout() time.Duration { return time.Duration(r.connTimeout.Load()) }

// SetIdleTimeout sets and re-arms the idle timeout. d <= 0 disables it.
func (r *Registration) SetIdleTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.idleTimeout.Store(int64(d))
	r.idleFired.Store(false)
	r.w.RequestPeriod(PeriodFor(d))
}

// SetConnectionTimeout sets and re-arms the connection timeout, measured from
// OpenedAt. d <= 0 disables it.
func (r *Registration) SetConnectionTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.connTimeout.Store(int64(d))
	r.connFired.Store(false)
	r.w.RequestPeriod(PeriodFor(d))
}

// Cancel removes the registration.
func (r *Registration) Cancel() {
	if r.cancelled.CompareAndSwap(false, true) {
		r.w.remove(r)
	}
}
