// File: handler/capabilities.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package handler

import (
	"strings"
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// Capabilities is the set of callbacks a handler implements.
type Capabilities uint8

const (
	CapConnect Capabilities = 1 << iota
	CapData
	CapDisconnect
	CapIdleTimeout
	CapConnectionTimeout

	AllCapabilities = CapConnect | CapData | CapDisconnect | CapIdleTimeout | CapConnectionTimeout
)

// Has reports whether all bits of o are set.
func (c Capabilities) Has(o Capabilities) bool { return c&o == o && o != 0 }

func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for e := Event(0); e < numEvents; e++ {
		if c.Has(e.capability()) {
			parts = append(parts, e.String())
		}
	}
	return strings.Join(parts, "|")
}

// CapabilitiesOf inspects h once. Chains report the union of their members.
func CapabilitiesOf(h any) Capabilities {
	switch w := h.(type) {
	case nil:
		return 0
	case *Chain:
		return w.Capabilities()
	case *threaded:
		return CapabilitiesOf(w.inner)
	case *scoped:
		return CapabilitiesOf(w.prototype())
	}
	var caps Capabilities
	if _, ok := h.(api.ConnectHandler); ok {
		caps |= CapConnect
	}
	if _, ok := h.(api.DataHandler); ok {
		caps |= CapData
	}
	if _, ok := h.(api.DisconnectHandler); ok {
		caps |= CapDisconnect
	}
	if _, ok := h.(api.IdleTimeoutHandler); ok {
		caps |= CapIdleTimeout
	}
	if _, ok := h.(api.ConnectionTimeoutHandler); ok {
		caps |= CapConnectionTimeout
	}
	return caps
}

type threaded struct{ inner any }

// Multithreaded marks h to run on the worker pool instead of the
// dispatcher goroutine.
func Multithreaded(h any) any { return &threaded{inner: h} }

type scoped struct {
	factory func() any
	once    sync.Once
	proto   any // first instance, inspected for capabilities only
}

func (s *scoped) prototype() any {
	s.once.Do(func() { s.proto = s.factory() })
	return s.proto
}

// Scoped registers a handler that keeps per-connection state. factory is
// called once up front to learn the capabilities, then once per
// connection through Chain.Instance.
func Scoped(factory func() any) any { return &scoped{factory: factory} }

// IsConnectionScoped reports whether h needs a fresh instance per
// connection.
func IsConnectionScoped(h any) bool {
	switch w := h.(type) {
	case *scoped:
		return true
	case *threaded:
		return IsConnectionScoped(w.inner)
	case interface{ IsConnectionScoped() bool }:
		return w.IsConnectionScoped()
	}
	return false
}

// ConnectFunc adapts a function to api.ConnectHandler.
type ConnectFunc func(api.Connection) (bool, error)

func (f ConnectFunc) OnConnect(c api.Connection) (bool, error) { return f(c) }

// DataFunc adapts a function to api.DataHandler.
type DataFunc func(api.Connection) (bool, error)

func (f DataFunc) OnData(c api.Connection) (bool, error) { return f(c) }

// DisconnectFunc adapts a function to api.DisconnectHandler.
type DisconnectFunc func(api.Connection) (bool, error)

func (f DisconnectFunc) OnDisconnect(c api.Connection) (bool, error) { return f(c) }

// IdleTimeoutFunc adapts a function to api.IdleTimeoutHandler.
type IdleTimeoutFunc func(api.Connection) (bool, error)

func (f IdleTimeoutFunc) OnIdleTimeout(c api.Connection) (bool, error) { return f(c) }

// ConnectionTimeoutFunc adapts a function to api.ConnectionTimeoutHandler.
type ConnectionTimeoutFunc func(api.Connection) (bool, error)

func (f ConnectionTimeoutFunc) OnConnectionTimeout(c api.Connection) (bool, error) { return f(c) }
