// File: core/concurrency/serialized_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/internal/logger"
)

func TestSerializedTaskQueue_NonThreadedRunsInline(t *testing.T) {
	q := NewSerializedTaskQueue(logger.NilLogger{})
	ran := false
	q.PerformNonThreaded(func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 0, q.Pending())
}

func TestSerializedTaskQueue_OrderAndExclusion(t *testing.T) {
	ex := NewExecutor(4, logger.NilLogger{})
	defer ex.Close()
	q := NewSerializedTaskQueue(logger.NilLogger{})

	var (
		mu      sync.Mutex
		order   []int
		active  atomic.Int32
		overlap atomic.Bool
	)
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		task := func() {
			defer wg.Done()
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			active.Add(-1)
		}
		if i%3 == 0 {
			q.PerformNonThreaded(task)
		} else {
			q.PerformMultiThreaded(task, ex)
		}
	}
	waitGroup(t, &wg)

	assert.False(t, overlap.Load(), "tasks overlapped")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

type rejectingExecutor struct{}

func (rejectingExecutor) Submit(func()) error { return errors.New("rejected") }
func (rejectingExecutor) NumWorkers() int     { return 0 }
func (rejectingExecutor) Resize(int)          {}

func TestSerializedTaskQueue_RejectedExecutorFallsBack(t *testing.T) {
	q := NewSerializedTaskQueue(logger.NilLogger{})
	done := make(chan struct{})
	q.PerformMultiThreaded(func() { close(done) }, rejectingExecutor{})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task not run after rejection")
	}
}

func TestSerializedTaskQueue_PanicDoesNotStall(t *testing.T) {
	q := NewSerializedTaskQueue(logger.NilLogger{})
	q.PerformNonThreaded(func() { panic("bug") })
	ran := false
	q.PerformNonThreaded(func() { ran = true })
	assert.True(t, ran)
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}
