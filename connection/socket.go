// File: connection/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import "github.com/momentics/hioload-nio/reactor"

// Socket is a non-blocking stream endpoint.
//
// Read returns (0, nil) when no data is available and io.EOF once the peer
// closed. Write may accept fewer bytes than offered and returns (0, nil)
// when the send buffer is full.
type Socket interface {
	reactor.Channel
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}
