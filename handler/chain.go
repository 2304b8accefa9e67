// File: handler/chain.go
// Package handler composes application handlers into ordered chains.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A chain keeps one sub-list per event holding only the handlers that
// implement it, in registration order. Dispatch walks the sub-list until a
// handler reports the event handled. A chain is itself a handler and can be
// nested in another chain.

package handler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// Event identifies a handler callback.
type Event int

const (
	EventConnect Event = iota
	EventData
	EventDisconnect
	EventIdleTimeout
	EventConnectionTimeout
	numEvents
)

var eventNames = [numEvents]string{"connect", "data", "disconnect", "idle-timeout", "connection-timeout"}

func (e Event) String() string {
	if e < 0 || e >= numEvents {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

func (e Event) capability() Capabilities { return 1 << Capabilities(e) }

// Execution selects where a handler runs.
type Execution int

const (
	// NonThreaded runs the callback on the dispatcher goroutine.
	NonThreaded Execution = iota
	// Multithreaded runs the callback on the worker pool.
	Multithreaded
)

func (e Execution) String() string {
	if e == Multithreaded {
		return "multithreaded"
	}
	return "nonthreaded"
}

type node struct {
	h       any
	caps    Capabilities
	exec    Execution
	factory func() any // set for connection-scoped handlers
}

func (n node) scoped() bool {
	if n.factory != nil {
		return true
	}
	c, ok := n.h.(interface{ IsConnectionScoped() bool })
	return ok && c.IsConnectionScoped()
}

// instance returns the node to use for a new connection.
func (n node) instance() node {
	if n.factory != nil {
		n.h = n.factory()
		return n
	}
	if c, ok := n.h.(*Chain); ok {
		n.h = c.Instance()
	}
	return n
}

// Chain is an ordered handler list. Building it is goroutine-safe; once in
// use it is read concurrently by many connections.
type Chain struct {
	mu    sync.RWMutex
	nodes []node
	lists [numEvents][]node
}

// NewChain creates a chain containing handlers in order.
func NewChain(handlers ...any) *Chain {
	c := &Chain{}
	for _, h := range handlers {
		c.AddLast(h)
	}
	return c
}

// AddLast appends h. h may be any value implementing at least one capability
// interface of package api, a *Chain, or the result of Scoped or
// Multithreaded. Values without capabilities are ignored.
func (c *Chain) AddLast(h any) *Chain {
	n := newNode(h)
	if n.caps == 0 {
		return c
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, n)
	for e := Event(0); e < numEvents; e++ {
		if n.caps.Has(e.capability()) {
			c.lists[e] = append(c.lists[e], n)
		}
	}
	return c
}

func newNode(h any) node {
	n := node{h: h}
	for {
		switch w := n.h.(type) {
		case *threaded:
			n.exec = Multithreaded
			n.h = w.inner
			continue
		case *scoped:
			n.factory = w.factory
			n.h = w.prototype()
			continue
		}
		break
	}
	if _, ok := n.h.(*Chain); ok {
		n.caps = AllCapabilities
	} else {
		n.caps = CapabilitiesOf(n.h)
	}
	if n.exec == NonThreaded {
		if m, ok := n.h.(interface{ Execution() Execution }); ok {
			n.exec = m.Execution()
		}
	}
	return n
}

// Len returns the number of handlers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// Capabilities returns the union of the members' capabilities.
func (c *Chain) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var caps Capabilities
	for e := Event(0); e < numEvents; e++ {
		for _, n := range c.lists[e] {
			if sub, ok := n.h.(*Chain); ok {
				if sub.Capabilities().Has(e.capability()) {
					caps |= e.capability()
				}
				continue
			}
			caps |= e.capability()
		}
	}
	return caps
}

// IsConnectionScoped reports whether any member, at any depth, needs a
// fresh instance per connection.
func (c *Chain) IsConnectionScoped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range c.nodes {
		if n.scoped() {
			return true
		}
	}
	return false
}

// Instance returns the chain itself when nothing is connection scoped,
// otherwise a new chain in which only scoped members are re-created.
func (c *Chain) Instance() *Chain {
	if !c.IsConnectionScoped() {
		return c
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Chain{nodes: make([]node, 0, len(c.nodes))}
	for _, n := range c.nodes {
		ni := n.instance()
		out.nodes = append(out.nodes, ni)
		for e := Event(0); e < numEvents; e++ {
			if ni.caps.Has(e.capability()) {
				out.lists[e] = append(out.lists[e], ni)
			}
		}
	}
	return out
}

// ExecutionOf returns Multithreaded if any handler on the path of e asks
// for it.
func (c *Chain) ExecutionOf(e Event) Execution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e < 0 || e >= numEvents {
		return NonThreaded
	}
	for _, n := range c.lists[e] {
		if n.exec == Multithreaded {
			return Multithreaded
		}
		if sub, ok := n.h.(*Chain); ok && sub.ExecutionOf(e) == Multithreaded {
			return Multithreaded
		}
	}
	return NonThreaded
}

// Dispatch calls the e-callback of each member in order until one returns
// true. It returns false when no member handled the event. A member error
// or panic stops the walk and is returned wrapped as api.ErrHandlerFault,
// except api.ErrBufferUnderflow which is returned as is.
func (c *Chain) Dispatch(e Event, conn api.Connection) (bool, error) {
	if e < 0 || e >= numEvents {
		return false, api.NewError(api.ErrCodeInvalidArgument, "unknown event").WithContext("event", int(e))
	}
	c.mu.RLock()
	list := c.lists[e]
	c.mu.RUnlock()

	for _, n := range list {
		handled, err := call(e, n.h, conn)
		if err != nil {
			return false, err
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

func (c *Chain) OnConnect(conn api.Connection) (bool, error) {
	return c.Dispatch(EventConnect, conn)
}

func (c *Chain) OnData(conn api.Connection) (bool, error) {
	return c.Dispatch(EventData, conn)
}

func (c *Chain) OnDisconnect(conn api.Connection) (bool, error) {
	return c.Dispatch(EventDisconnect, conn)
}

func (c *Chain) OnIdleTimeout(conn api.Connection) (bool, error) {
	return c.Dispatch(EventIdleTimeout, conn)
}

func (c *Chain) OnConnectionTimeout(conn api.Connection) (bool, error) {
	return c.Dispatch(EventConnectionTimeout, conn)
}

// call runs one callback. Nested chains return their own errors unchanged.
func call(e Event, h any, conn api.Connection) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled = false
			err = api.NewError(api.ErrCodeHandlerFault, fmt.Sprintf("%s handler panic: %v", e, r)).
				WithContext("handler", fmt.Sprintf("%T", h))
		}
	}()
	switch e {
	case EventConnect:
		handled, err = h.(api.ConnectHandler).OnConnect(conn)
	case EventData:
		handled, err = h.(api.DataHandler).OnData(conn)
	case EventDisconnect:
		handled, err = h.(api.DisconnectHandler).OnDisconnect(conn)
	case EventIdleTimeout:
		handled, err = h.(api.IdleTimeoutHandler).OnIdleTimeout(conn)
	case EventConnectionTimeout:
		handled, err = h.(api.ConnectionTimeoutHandler).OnConnectionTimeout(conn)
	}
	if err == nil {
		return handled, nil
	}
	if errors.Is(err, api.ErrBufferUnderflow) {
		// incomplete record, the connection waits for more data
		return false, err
	}
	if _, nested := h.(*Chain); nested || api.CodeOf(err) == api.ErrCodeHandlerFault {
		return false, err
	}
	return false, api.WrapError(api.ErrCodeHandlerFault, e.String()+" handler failed", err).
		WithContext("handler", fmt.Sprintf("%T", h))
}
