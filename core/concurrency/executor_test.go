// File: core/concurrency/executor_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/logger"
)

func TestExecutor_ResizeKeepsTasks(t *testing.T) {
	ex := NewExecutor(4, logger.NilLogger{})
	defer ex.Close()

	var counter atomic.Int64
	task := func() { counter.Add(1) }

	for i := 0; i < 20; i++ {
		require.NoError(t, ex.Submit(task))
	}
	require.Eventually(t, func() bool { return counter.Load() == 20 }, 2*time.Second, time.Millisecond)

	ex.Resize(8)
	assert.Equal(t, 8, ex.NumWorkers())
	for i := 0; i < 100; i++ {
		require.NoError(t, ex.Submit(task))
	}
	ex.Resize(2)
	assert.Equal(t, 2, ex.NumWorkers())
	require.Eventually(t, func() bool { return counter.Load() == 120 }, 2*time.Second, time.Millisecond,
		"tasks lost during resize")

	ex.Resize(0)
	assert.Equal(t, 1, ex.NumWorkers())
}

func TestExecutor_CloseRunsQueuedAndRejects(t *testing.T) {
	ex := NewExecutor(2, logger.NilLogger{})
	var counter atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, ex.Submit(func() { counter.Add(1) }))
	}
	ex.Close()
	ex.Close()
	assert.Equal(t, int64(50), counter.Load())

	err := ex.Submit(func() {})
	assert.ErrorIs(t, err, ErrExecutorClosed)
	assert.ErrorIs(t, err, api.ErrClosed)
	assert.Equal(t, 0, ex.NumWorkers())
}

func TestExecutor_PanicIsContained(t *testing.T) {
	ex := NewExecutor(1, logger.NilLogger{})
	defer ex.Close()
	done := make(chan struct{})
	require.NoError(t, ex.Submit(func() { panic("task bug") }))
	require.NoError(t, ex.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int64(1), ex.Panics())
}
