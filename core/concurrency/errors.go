// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"fmt"

	"github.com/momentics/hioload-nio/api"
)

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = fmt.Errorf("executor is closed: %w", api.ErrClosed)

	// ErrInvalidWorkerCount indicates invalid worker count configuration
	ErrInvalidWorkerCount = fmt.Errorf("invalid worker count: %w", api.ErrInvalidArgument)
)
