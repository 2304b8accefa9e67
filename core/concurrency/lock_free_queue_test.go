// File: core/concurrency/lock_free_queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockFreeQueue_MPMC(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	producers := 10
	consumers := 10
	itemsPerProducer := 10000

	var wg sync.WaitGroup
	var sentSum int64
	var receivedSum int64

	// Producers
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	// Consumers
	var receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, sentSum, receivedSum, "checksum mismatch")
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for consumers, received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

func TestLockFreeQueue_FullAndEmpty(t *testing.T) {
	q := NewLockFreeQueue[int](3)
	assert.Equal(t, 4, q.Cap())
	for i := 0; i < 4; i++ {
		assert.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(99))
	for i := 0; i < 4; i++ {
		v, ok := q.Dequeue()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok)
}
