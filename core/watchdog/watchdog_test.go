// File: core/watchdog/watchdog_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package watchdog

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/internal/logger"
)

type conn struct {
	open       atomic.Bool
	handleIdle bool
	handleConn bool

	mu       sync.Mutex
	idleAt   []time.Time
	connAt   []time.Time
	closedAt time.Time
	payload  []byte
}

func newConn() *conn {
	c := &conn{payload: make([]byte, 1<<16)}
	c.open.Store(true)
	return c
}

func (c *conn) IsOpen() bool { return c.open.Load() }

func (c *conn) OnIdleTimeout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleAt = append(c.idleAt, time.Now())
	return c.handleIdle
}

func (c *conn) OnConnectionTimeout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connAt = append(c.connAt, time.Now())
	return c.handleConn
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open.CompareAndSwap(true, false) {
		c.closedAt = time.Now()
	}
	return nil
}

func (c *conn) snapshot() (idle, connT int, closedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idleAt), len(c.connAt), c.closedAt
}

func newWatchdog(t *testing.T, opts ...Option) *Watchdog {
	t.Helper()
	w := New(append([]Option{WithLogger(logger.NilLogger{})}, opts...)...)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestPeriodFor(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, PeriodFor(time.Second))
	assert.Equal(t, 500*time.Millisecond, PeriodFor(500*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, PeriodFor(100*time.Millisecond))
}

func TestRequestPeriodOnlyLowers(t *testing.T) {
	w := newWatchdog(t)
	assert.Equal(t, DefaultPeriod, w.Period())
	w.RequestPeriod(time.Minute)
	assert.Equal(t, time.Minute, w.Period())
	w.RequestPeriod(2 * time.Minute)
	assert.Equal(t, time.Minute, w.Period())

	r := Watch(w, newConn())
	r.SetIdleTimeout(10 * time.Second)
	assert.Equal(t, 2*time.Second, w.Period())
}

// Dropping the only strong reference must let the target be collected
// while it is still registered.
func TestWatchDoesNotRetainTarget(t *testing.T) {
	w := newWatchdog(t)

	var collected atomic.Bool
	func() {
		c := newConn()
		runtime.AddCleanup(c, func(flag *atomic.Bool) { flag.Store(true) }, &collected)
		r := Watch(w, c)
		r.SetIdleTimeout(time.Hour)
	}()
	require.Equal(t, 1, w.Len())

	require.Eventually(t, func() bool {
		runtime.GC()
		return collected.Load()
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, w.Scan)
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, int64(1), w.Stats().Pruned)
}

func TestClosedTargetIsPruned(t *testing.T) {
	w := newWatchdog(t)
	c := newConn()
	Watch(w, c)
	_ = c.Close()
	w.Scan()
	assert.Equal(t, 0, w.Len())
}

func TestIdleTimeoutFiringWindow(t *testing.T) {
	w := newWatchdog(t)
	c := newConn()
	start := time.Now()
	r := Watch(w, c)
	r.SetIdleTimeout(1000 * time.Millisecond)

	require.Eventually(t, func() bool { return !c.IsOpen() }, 3*time.Second, 5*time.Millisecond)
	idle, _, closedAt := c.snapshot()
	assert.Equal(t, 1, idle)
	elapsed := closedAt.Sub(start)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 1500*time.Millisecond)
	assert.Equal(t, int64(1), w.Stats().IdleTimeouts)
}

func TestHandledTimeoutKeepsTargetOpenAndFiresOnce(t *testing.T) {
	w := newWatchdog(t)
	c := newConn()
	c.handleIdle = true
	r := Watch(w, c)
	r.SetIdleTimeout(20 * time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	w.Scan()
	w.Scan()
	idle, _, _ := c.snapshot()
	assert.Equal(t, 1, idle, "fires once until re-armed")
	assert.True(t, c.IsOpen())

	r.Touch()
	time.Sleep(30 * time.Millisecond)
	w.Scan()
	idle, _, _ = c.snapshot()
	assert.Equal(t, 2, idle)
}

func TestBothTimeoutsFireInOneScan(t *testing.T) {
	w := newWatchdog(t)
	c := newConn()
	c.handleIdle = true
	r := Watch(w, c)
	r.SetIdleTimeout(10 * time.Millisecond)
	r.SetConnectionTimeout(10 * time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	w.Scan()
	idle, connT, _ := c.snapshot()
	assert.Equal(t, 1, idle)
	assert.Equal(t, 1, connT)
	assert.False(t, c.IsOpen(), "connection timeout not handled")
	st := w.Stats()
	assert.Equal(t, int64(1), st.IdleTimeouts)
	assert.Equal(t, int64(1), st.ConnectionTimeouts)
}

func TestTouchPostponesIdleTimeout(t *testing.T) {
	w := newWatchdog(t)
	c := newConn()
	r := Watch(w, c)
	r.SetIdleTimeout(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		r.Touch()
		w.Scan()
	}
	assert.True(t, c.IsOpen())
	assert.WithinDuration(t, time.Now(), r.LastActivity(), 50*time.Millisecond)
}

func TestCancel(t *testing.T) {
	w := newWatchdog(t)
	c := newConn()
	r := Watch(w, c)
	r.SetIdleTimeout(time.Millisecond)
	r.Cancel()
	r.Cancel()
	time.Sleep(5 * time.Millisecond)
	w.Scan()
	assert.True(t, c.IsOpen())
	assert.Equal(t, 0, w.Len())
}

func TestPanickingCallbackClosesTarget(t *testing.T) {
	w := newWatchdog(t)
	p := &panicky{conn: newConn()}
	r := Watch(w, p)
	r.SetIdleTimeout(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.NotPanics(t, w.Scan)
	assert.False(t, p.IsOpen())
}

type panicky struct{ *conn }

func (p *panicky) OnIdleTimeout() bool { panic("bug") }
