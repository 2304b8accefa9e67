// File: adapters/executor_adapter.go
// Package adapters provides glue between internal concurrency and api.Executor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ExecutorAdapter implements api.Executor by delegating to
// concurrency.Executor and counts submissions for the control surface.

package adapters

import (
	"context"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/core/concurrency"
	"github.com/momentics/hioload-nio/internal/logger"
)

// ExecutorAdapter wraps a concurrency.Executor to satisfy the api.Executor contract.
type ExecutorAdapter struct {
	exec      *concurrency.Executor
	submitted atomic.Int64
	rejected  atomic.Int64
}

var (
	_ api.Executor         = (*ExecutorAdapter)(nil)
	_ api.GracefulShutdown = (*ExecutorAdapter)(nil)
)

// ExecutorStats is a snapshot of the adapter counters.
type ExecutorStats struct {
	Workers   int
	Submitted int64
	Rejected  int64
	Panics    int64
}

// NewExecutorAdapter constructs an api.Executor with the given number of worker goroutines.
func NewExecutorAdapter(workers int, l logger.LLogger) *ExecutorAdapter {
	return &ExecutorAdapter{exec: concurrency.NewExecutor(workers, l)}
}

// Submit dispatches a task function to be executed asynchronously.
// Returns an error if the executor has been closed.
func (ea *ExecutorAdapter) Submit(task func()) error {
	if err := ea.exec.Submit(task); err != nil {
		ea.rejected.Add(1)
		return err
	}
	ea.submitted.Add(1)
	return nil
}

// NumWorkers returns the current number of active worker goroutines.
func (ea *ExecutorAdapter) NumWorkers() int {
	return ea.exec.NumWorkers()
}

// Resize dynamically adjusts the size of the worker pool.
func (ea *ExecutorAdapter) Resize(newCount int) {
	ea.exec.Resize(newCount)
}

// Stats returns the adapter counters.
func (ea *ExecutorAdapter) Stats() ExecutorStats {
	return ExecutorStats{
		Workers:   ea.exec.NumWorkers(),
		Submitted: ea.submitted.Load(),
		Rejected:  ea.rejected.Load(),
		Panics:    ea.exec.Panics(),
	}
}

// Close shuts down the executor. Queued tasks still run.
func (ea *ExecutorAdapter) Close() {
	ea.exec.Close()
}

// Shutdown closes the executor, giving up waiting when ctx is done.
func (ea *ExecutorAdapter) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ea.exec.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
