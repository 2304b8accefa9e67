//go:build !linux
// +build !linux

// File: reactor/multiplexer_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-nio/api"
)

// NewMultiplexer returns an error for unsupported platforms. Dispatchers can
// still be built on them with WithMultiplexerFactory.
func NewMultiplexer() (Multiplexer, error) {
	return nil, fmt.Errorf("reactor: no native multiplexer on this platform: %w", api.ErrNotSupported)
}
