// File: handler/chain_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package handler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
)

type trace struct{ calls []string }

func (tr *trace) data(name string, result bool) DataFunc {
	return func(api.Connection) (bool, error) {
		tr.calls = append(tr.calls, name)
		return result, nil
	}
}

type connectOnly struct{ tr *trace }

func (c connectOnly) OnConnect(api.Connection) (bool, error) {
	c.tr.calls = append(c.tr.calls, "connect")
	return true, nil
}

func TestChain_StopsAtFirstHandled(t *testing.T) {
	tr := &trace{}
	c := NewChain(tr.data("A", false), tr.data("B", true), tr.data("C", false))

	handled, err := c.OnData(nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"A", "B"}, tr.calls)
}

func TestChain_UnhandledWalksEverything(t *testing.T) {
	tr := &trace{}
	c := NewChain(tr.data("A", false), connectOnly{tr}, tr.data("B", false))

	handled, err := c.OnData(nil)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, []string{"A", "B"}, tr.calls)

	handled, err = c.OnDisconnect(nil)
	require.NoError(t, err)
	assert.False(t, handled, "no disconnect handler")
}

func TestChain_NestedChainParticipatesLikeLeaf(t *testing.T) {
	tr := &trace{}
	inner := NewChain(tr.data("Y", false), tr.data("Z", true))
	outer := NewChain(tr.data("X", false), inner, tr.data("W", true))

	handled, err := outer.OnData(nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"X", "Y", "Z"}, tr.calls)

	// an inner chain without connect handlers passes the event on
	tr.calls = nil
	outer.AddLast(connectOnly{tr})
	handled, err = outer.OnConnect(nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"connect"}, tr.calls)
}

func TestChain_HandlerErrorsAreFaults(t *testing.T) {
	tr := &trace{}
	cause := errors.New("broken")
	c := NewChain(
		DataFunc(func(api.Connection) (bool, error) { return false, cause }),
		tr.data("after", true),
	)
	handled, err := c.OnData(nil)
	assert.False(t, handled)
	assert.ErrorIs(t, err, api.ErrHandlerFault)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, tr.calls)

	// nested faults are not wrapped twice
	outer := NewChain(c)
	_, err = outer.OnData(nil)
	var herr *api.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, cause, herr.Cause)
}

func TestChain_PanicBecomesFault(t *testing.T) {
	c := NewChain(IdleTimeoutFunc(func(api.Connection) (bool, error) { panic("boom") }))
	handled, err := c.OnIdleTimeout(nil)
	assert.False(t, handled)
	assert.ErrorIs(t, err, api.ErrHandlerFault)
}

func TestChain_BufferUnderflowPassesThrough(t *testing.T) {
	c := NewChain(DataFunc(func(api.Connection) (bool, error) { return false, api.ErrBufferUnderflow }))
	_, err := c.OnData(nil)
	assert.ErrorIs(t, err, api.ErrBufferUnderflow)
	assert.NotErrorIs(t, err, api.ErrHandlerFault)
}

func TestChain_UnknownEvent(t *testing.T) {
	_, err := NewChain().Dispatch(Event(42), nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestCapabilitiesOf(t *testing.T) {
	tr := &trace{}
	assert.Equal(t, CapData, CapabilitiesOf(tr.data("A", true)))
	assert.Equal(t, CapConnect, CapabilitiesOf(connectOnly{tr}))
	assert.Equal(t, Capabilities(0), CapabilitiesOf(struct{}{}))
	assert.Equal(t, Capabilities(0), CapabilitiesOf(nil))
	assert.Equal(t, CapConnect|CapData, CapabilitiesOf(NewChain(connectOnly{tr}, tr.data("A", true))))
	assert.Equal(t, CapData, CapabilitiesOf(Multithreaded(tr.data("A", true))))
	assert.Equal(t, "connect|data", (CapConnect | CapData).String())

	c := NewChain(struct{}{})
	assert.Equal(t, 0, c.Len(), "handlers without capabilities are ignored")
}

type session struct{ seen int }

func (s *session) OnData(api.Connection) (bool, error) {
	s.seen++
	return true, nil
}

func TestChain_ConnectionScopedInstances(t *testing.T) {
	created := 0
	factory := func() any {
		created++
		return &session{}
	}
	tr := &trace{}
	shared := tr.data("shared", false)

	plain := NewChain(shared)
	assert.False(t, plain.IsConnectionScoped())
	assert.Same(t, plain, plain.Instance())

	c := NewChain(shared, NewChain(Scoped(factory)))
	assert.True(t, c.IsConnectionScoped())
	assert.True(t, IsConnectionScoped(Scoped(factory)))
	assert.False(t, IsConnectionScoped(shared))

	before := created
	a, b := c.Instance(), c.Instance()
	assert.NotSame(t, a, b)
	assert.Equal(t, before+2, created)

	_, err := a.OnData(nil)
	require.NoError(t, err)
	_, err = a.OnData(nil)
	require.NoError(t, err)
	_, err = b.OnData(nil)
	require.NoError(t, err)

	sa := a.nodes[1].h.(*Chain).nodes[0].h.(*session)
	sb := b.nodes[1].h.(*Chain).nodes[0].h.(*session)
	assert.Equal(t, 2, sa.seen)
	assert.Equal(t, 1, sb.seen)
	assert.Equal(t, []string{"shared", "shared", "shared"}, tr.calls)
}

func TestScoped_FactoryInspectedOnce(t *testing.T) {
	created := 0
	h := Scoped(func() any {
		created++
		return &session{}
	})
	assert.Equal(t, CapData, CapabilitiesOf(h))
	assert.Equal(t, CapData, CapabilitiesOf(Multithreaded(h)))
	assert.Equal(t, 1, created)

	c := NewChain(h)
	NewChain().AddLast(h)
	assert.Equal(t, 1, created, "chains reuse the prototype")
	assert.Equal(t, CapData, c.Capabilities())

	c.Instance()
	c.Instance()
	assert.Equal(t, 3, created)
}

func TestChain_ExecutionOf(t *testing.T) {
	tr := &trace{}
	c := NewChain(connectOnly{tr}, Multithreaded(tr.data("A", true)))
	assert.Equal(t, NonThreaded, c.ExecutionOf(EventConnect))
	assert.Equal(t, Multithreaded, c.ExecutionOf(EventData))

	outer := NewChain(c)
	assert.Equal(t, Multithreaded, outer.ExecutionOf(EventData))
	assert.Equal(t, NonThreaded, outer.ExecutionOf(EventDisconnect))
}
