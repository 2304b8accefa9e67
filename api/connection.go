// File: api/connection.go
// Author: momentics <momentics@gmail.com>
//
// Defines the connection surface handed to application handlers and the
// codec seam used by a TLS collaborator.

package api

import (
	"net"
	"time"
)

// Connection is a full-duplex, non-blocking connection as seen by handlers.
// Reads never block: when the requested record is not complete yet they
// return ErrBufferUnderflow and the data callback fires again on new data.
type Connection interface {
	// ID returns a process-unique connection identifier.
	ID() string
	RemoteAddr() net.Addr
	IsOpen() bool
	Close() error

	// Available returns the number of buffered, unread bytes.
	Available() int
	// ReadBytesByDelimiter returns the record before delim and consumes delim.
	// maxLen <= 0 disables the unterminated-length limit.
	ReadBytesByDelimiter(delim []byte, maxLen int) ([]byte, error)
	ReadStringByDelimiter(delim string, maxLen int) (string, error)
	// ReadAvailableByDelimiter returns every byte that cannot be part of delim.
	// found reports whether the record was terminated by this call.
	ReadAvailableByDelimiter(delim []byte) (data []byte, found bool, err error)
	ReadBytesByLength(n int) ([]byte, error)
	ReadAvailable() ([]byte, error)

	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
	// Flush hands queued writes to the dispatcher.
	Flush() error

	Attachment() any
	SetAttachment(v any)

	SetIdleTimeout(d time.Duration)
	SetConnectionTimeout(d time.Duration)
}

// Codec transforms bytes between the socket and the application, e.g. TLS.
// The codec owns its handshake state; plain buffers go in and out through
// the same read and write primitives as an unsecured connection.
type Codec interface {
	// Decode turns bytes read from the socket into plain application bytes.
	// It may return no bytes while a handshake is in progress.
	Decode(in []byte) ([]byte, error)
	// Encode turns plain application bytes into bytes written to the socket.
	Encode(out []byte) ([]byte, error)
}
