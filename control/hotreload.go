// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Reload hooks owned by one control surface, e.g. bound to SIGHUP by a
// service binary or run before a stats snapshot.

package control

import (
	"sort"
	"sync"
)

// ReloadHooks is a set of component reload listeners.
type ReloadHooks struct {
	mu    sync.Mutex
	seq   uint64
	hooks map[uint64]func()
}

// NewReloadHooks creates an empty hook set.
func NewReloadHooks() *ReloadHooks {
	return &ReloadHooks{hooks: make(map[uint64]func())}
}

// Register adds fn and returns a func removing it again.
func (r *ReloadHooks) Register(fn func()) (unregister func()) {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.hooks[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.hooks, id)
		r.mu.Unlock()
	}
}

// Len returns the number of registered hooks.
func (r *ReloadHooks) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// snapshot returns hooks in registration order.
func (r *ReloadHooks) snapshot() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.hooks))
	for id := range r.hooks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(), len(ids))
	for i, id := range ids {
		out[i] = r.hooks[id]
	}
	return out
}

// Trigger dispatches all hooks asynchronously.
func (r *ReloadHooks) Trigger() {
	for _, fn := range r.snapshot() {
		go fn()
	}
}

// TriggerSync invokes all hooks synchronously in registration order.
func (r *ReloadHooks) TriggerSync() {
	for _, fn := range r.snapshot() {
		fn()
	}
}
