// File: reactor/dispatcher_pool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/reactor"
)

type poolEvents struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (p *poolEvents) OnDispatcherAdded(d *reactor.Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, d.Name())
}

func (p *poolEvents) OnDispatcherRemoved(d *reactor.Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, d.Name())
}

func (p *poolEvents) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.added), len(p.removed)
}

func newFakePool(t *testing.T, size, maxHandles int) *reactor.DispatcherPool {
	t.Helper()
	p, err := reactor.NewDispatcherPool("pool", size,
		reactor.WithMultiplexerFactory(fake.Factory()),
		reactor.WithPoolLogger(logger.NilLogger{}),
		reactor.WithDispatcherOptions(reactor.WithMaxHandles(maxHandles)),
	)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func registerNext(t *testing.T, p *reactor.DispatcherPool) *reactor.Dispatcher {
	t.Helper()
	d, err := p.NextDispatcher()
	require.NoError(t, err)
	require.NoError(t, d.Register(reactor.NewHandle(fake.NewChannel(), newRecorder()), reactor.OpRead))
	return d
}

func TestDispatcherPool_GrowsWhenAllFull(t *testing.T) {
	const size, maxHandles = 2, 3
	p := newFakePool(t, size, maxHandles)
	events := &poolEvents{}
	p.AddListener(events)

	for i := 0; i < size*maxHandles; i++ {
		registerNext(t, p)
	}
	assert.Equal(t, size, p.Size())
	for _, d := range p.Dispatchers() {
		assert.Equal(t, maxHandles, d.NumRegistered())
	}

	d := registerNext(t, p)
	assert.Equal(t, size+1, p.Size())
	assert.Equal(t, 1, d.NumRegistered())
	assert.Equal(t, size*maxHandles+1, p.NumRegisteredHandles())

	added, _ := events.counts()
	assert.Equal(t, 1, added)
}

func TestDispatcherPool_RoundRobin(t *testing.T) {
	p := newFakePool(t, 3, 0)
	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		seen[registerNext(t, p).Name()]++
	}
	require.Len(t, seen, 3)
	for name, n := range seen {
		assert.Equal(t, 3, n, name)
	}
}

func TestDispatcherPool_SetSizeNotifiesListeners(t *testing.T) {
	p := newFakePool(t, 1, 0)
	events := &poolEvents{}
	p.AddListener(events)

	require.NoError(t, p.SetSize(4))
	assert.Equal(t, 4, p.Size())
	removedD := p.Dispatchers()[3]

	require.NoError(t, p.SetSize(2))
	assert.Equal(t, 2, p.Size())
	added, removed := events.counts()
	assert.Equal(t, 3, added)
	assert.Equal(t, 2, removed)
	assert.False(t, removedD.IsOpen())

	assert.True(t, p.RemoveListener(events))
	assert.False(t, p.RemoveListener(events))
	require.NoError(t, p.SetSize(3))
	added, _ = events.counts()
	assert.Equal(t, 3, added)

	assert.ErrorIs(t, p.SetSize(0), api.ErrInvalidArgument)
}

func TestDispatcherPool_Closed(t *testing.T) {
	p := newFakePool(t, 2, 0)
	ds := p.Dispatchers()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	for _, d := range ds {
		assert.False(t, d.IsOpen())
	}

	_, err := p.NextDispatcher()
	assert.ErrorIs(t, err, api.ErrClosed)
	assert.ErrorIs(t, p.SetSize(3), api.ErrClosed)
	assert.Equal(t, 0, p.Size())
}

func TestDispatcherPool_FactoryFailure(t *testing.T) {
	boom := errors.New("no multiplexer")
	_, err := reactor.NewDispatcherPool("broken", 1,
		reactor.WithPoolLogger(logger.NilLogger{}),
		reactor.WithMultiplexerFactory(func() (reactor.Multiplexer, error) { return nil, boom }),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrIO)
	assert.ErrorIs(t, err, boom)
}

func TestDispatcherPool_AcceptedRate(t *testing.T) {
	p := newFakePool(t, 1, 0)
	assert.Equal(t, float64(0), p.AcceptedRatePerSec())
	for i := 0; i < 10; i++ {
		p.IncAccepted()
	}
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, p.AcceptedRatePerSec(), float64(0))
	assert.Equal(t, float64(0), p.AcceptedRatePerSec(), "counter resets on read")
}

func TestDispatcherPool_Stats(t *testing.T) {
	p := newFakePool(t, 2, 0)
	d := registerNext(t, p)
	d.AddReceived(7)
	st := p.Stats()
	assert.Equal(t, 2, st.Size)
	assert.Equal(t, 1, st.RegisteredHandles)
	assert.Equal(t, int64(7), st.ReceivedBytes)
	assert.Len(t, st.Dispatchers, 2)
}

func TestDispatcherPool_CPUAffinity(t *testing.T) {
	cpus, err := affinity.AllowedCPUs()
	if err != nil {
		cpus = []int{0}
	}
	cpus = cpus[:1]
	p, err := reactor.NewDispatcherPool("pinned", 2,
		reactor.WithMultiplexerFactory(fake.Factory()),
		reactor.WithPoolLogger(logger.NilLogger{}),
		reactor.WithCPUAffinity(cpus))
	require.NoError(t, err)
	defer p.Close()

	for _, ds := range p.Stats().Dispatchers {
		assert.Equal(t, cpus[0], ds.CPU, ds.Name)
	}
}
