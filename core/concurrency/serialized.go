// File: core/concurrency/serialized.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SerializedTaskQueue runs the tasks of one connection strictly one at a
// time and in submission order, whether they run on the dispatcher
// goroutine or on a worker. Whoever is running drains what was queued
// meanwhile.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/logger"
)

// SerializedTaskQueue is safe for concurrent use.
type SerializedTaskQueue struct {
	mu      sync.Mutex
	tasks   *queue.Queue
	running bool
	log     logger.LLogger
}

// NewSerializedTaskQueue creates an empty queue.
func NewSerializedTaskQueue(l logger.LLogger) *SerializedTaskQueue {
	return &SerializedTaskQueue{tasks: queue.New(), log: logger.OrDefault(l)}
}

// PerformNonThreaded runs task on the calling goroutine when nothing is
// running, otherwise queues it behind the running tasks.
func (s *SerializedTaskQueue) PerformNonThreaded(task TaskFunc) {
	s.mu.Lock()
	if s.running {
		s.tasks.Add(task)
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.execute(task)
	s.drain()
}

// PerformMultiThreaded queues task and starts a drain on executor when
// nothing is running. If the executor rejects it, a fresh goroutine drains.
func (s *SerializedTaskQueue) PerformMultiThreaded(task TaskFunc, executor api.Executor) {
	s.mu.Lock()
	s.tasks.Add(task)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if executor == nil {
		go s.drain()
		return
	}
	if err := executor.Submit(s.drain); err != nil {
		s.log.Debug("[SerializedTaskQueue] executor rejected task (%v), draining on own goroutine", err)
		go s.drain()
	}
}

// Pending returns the number of queued tasks.
func (s *SerializedTaskQueue) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Length()
}

func (s *SerializedTaskQueue) drain() {
	for {
		s.mu.Lock()
		if s.tasks.Length() == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		task := s.tasks.Remove().(TaskFunc)
		s.mu.Unlock()
		s.execute(task)
	}
}

func (s *SerializedTaskQueue) execute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("[SerializedTaskQueue] task panic: %v", r)
		}
	}()
	task()
}
