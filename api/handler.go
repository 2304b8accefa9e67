// File: api/handler.go
// Package api defines the application handler capabilities.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A handler implements any subset of the callbacks below. Each callback reports
// whether it handled the event; a false result lets the next handler in a chain
// see it. A returned error is fatal for the connection.

package api

// ConnectHandler is called once per connection, before any data callback.
type ConnectHandler interface {
	OnConnect(conn Connection) (bool, error)
}

// DataHandler is called whenever new data has been read into the connection.
// Returning ErrBufferUnderflow means "not enough data yet" and is not a fault.
type DataHandler interface {
	OnData(conn Connection) (bool, error)
}

// DisconnectHandler is called once after the connection has been closed.
type DisconnectHandler interface {
	OnDisconnect(conn Connection) (bool, error)
}

// IdleTimeoutHandler is called when no I/O happened for the idle timeout.
// If no handler returns true the connection is closed.
type IdleTimeoutHandler interface {
	OnIdleTimeout(conn Connection) (bool, error)
}

// ConnectionTimeoutHandler is called when the connection outlived its connection timeout.
// If no handler returns true the connection is closed.
type ConnectionTimeoutHandler interface {
	OnConnectionTimeout(conn Connection) (bool, error)
}
