// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components owning goroutines.
type GracefulShutdown interface {
	// Shutdown stops the component and waits until its goroutines exited or
	// ctx is done.
	Shutdown(ctx context.Context) error
}
