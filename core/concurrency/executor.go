// File: core/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across worker goroutines, using lock-free local
// queues and a global queue fallback. It is the default worker pool for
// multithreaded handler callbacks. A stopped worker runs everything left in
// its local queue before it exits, so resizing never drops tasks.
//

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/logger"
)

// TaskFunc is a unit of work.
type TaskFunc = func()

const localQueueSize = 1024

var _ api.Executor = (*Executor)(nil)

// Executor manages a pool of worker goroutines.
type Executor struct {
	globalQueue chan TaskFunc
	closeCh     chan struct{}
	closed      atomic.Bool
	next        atomic.Uint64
	seq         int
	log         logger.LLogger

	mu      sync.RWMutex // guards workers
	workers []*worker
	wg      sync.WaitGroup

	panics atomic.Int64
}

// NewExecutor creates a new Executor with the given number of workers.
// numWorkers <= 0 means runtime.NumCPU().
func NewExecutor(numWorkers int, l logger.LLogger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		globalQueue: make(chan TaskFunc, numWorkers*4),
		closeCh:     make(chan struct{}),
		log:         logger.OrDefault(l),
	}
	e.mu.Lock()
	for i := 0; i < numWorkers; i++ {
		e.startWorker()
	}
	e.mu.Unlock()
	return e
}

// startWorker is called with mu held.
func (e *Executor) startWorker() {
	w := &worker{
		id:         e.seq,
		executor:   e,
		localQueue: NewLockFreeQueue[TaskFunc](localQueueSize),
		notify:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
	e.seq++
	e.workers = append(e.workers, w)
	e.wg.Add(1)
	go w.run()
}

// Submit enqueues a task. Returns ErrExecutorClosed once closed.
func (e *Executor) Submit(task func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() || len(e.workers) == 0 {
		return ErrExecutorClosed
	}
	w := e.workers[int(e.next.Add(1)%uint64(len(e.workers)))]
	if w.localQueue.Enqueue(task) {
		w.wake()
		return nil
	}
	select {
	case e.globalQueue <- task:
		return nil
	case <-e.closeCh:
		return ErrExecutorClosed
	}
}

// Resize dynamically scales the worker pool. Values below one are raised to one.
func (e *Executor) Resize(newCount int) {
	if newCount <= 0 {
		newCount = 1
	}
	if e.closed.Load() {
		return
	}
	e.mu.Lock()
	var removed []*worker
	if cur := len(e.workers); newCount > cur {
		for i := cur; i < newCount; i++ {
			e.startWorker()
		}
	} else if newCount < cur {
		removed = append(removed, e.workers[newCount:]...)
		e.workers = e.workers[:newCount:newCount]
		for _, w := range removed {
			close(w.stopCh)
		}
	}
	e.mu.Unlock()

	// wait outside the lock: draining workers may Submit
	for _, w := range removed {
		<-w.stoppedCh
	}
}

// Close shuts down the executor, waiting for workers to finish queued tasks.
func (e *Executor) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	close(e.closeCh)
	e.mu.Lock()
	for _, w := range e.workers {
		close(w.stopCh)
	}
	e.workers = nil
	e.mu.Unlock()
	e.wg.Wait()
}

// NumWorkers returns active worker count.
func (e *Executor) NumWorkers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.workers)
}

// Panics returns how many tasks panicked.
func (e *Executor) Panics() int64 { return e.panics.Load() }

type worker struct {
	id         int
	executor   *Executor
	localQueue *LockFreeQueue[TaskFunc]
	notify     chan struct{}
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

func (w *worker) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer func() {
		close(w.stoppedCh)
		w.executor.wg.Done()
	}()
	for {
		if task, ok := w.localQueue.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case <-w.stopCh:
			w.drain()
			return
		case task := <-w.executor.globalQueue:
			w.safeExecute(task)
		case <-w.notify:
		}
	}
}

// drain runs the local queue and, on executor shutdown, the global queue.
func (w *worker) drain() {
	for {
		if task, ok := w.localQueue.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		if !w.executor.closed.Load() {
			return
		}
		select {
		case task := <-w.executor.globalQueue:
			w.safeExecute(task)
		default:
			return
		}
	}
}

func (w *worker) safeExecute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			w.executor.panics.Add(1)
			w.executor.log.Error("[Executor] worker %d task panic: %v", w.id, r)
		}
	}()
	task()
}
