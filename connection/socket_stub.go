// File: connection/socket_stub.go
//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"fmt"
	"net"

	"github.com/momentics/hioload-nio/api"
)

// NewSocket is not supported on this platform.
func NewSocket(fd int) (Socket, error) {
	return nil, fmt.Errorf("raw sockets: %w", api.ErrNotSupported)
}

// Detach is not supported on this platform.
func Detach(conn net.Conn) (Socket, error) {
	return nil, fmt.Errorf("detach %T: %w", conn, api.ErrNotSupported)
}

// SocketPair is not supported on this platform.
func SocketPair() (Socket, Socket, error) {
	return nil, nil, fmt.Errorf("socketpair: %w", api.ErrNotSupported)
}
