// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes counters in a thread-safe map with dynamic registration.

package control

import (
	"sync"
	"time"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Add increments the int64 counter key by delta and returns the new value.
// A non-counter value under key is replaced.
func (mr *MetricsRegistry) Add(key string, delta int64) int64 {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	cur, _ := mr.metrics[key].(int64)
	cur += delta
	mr.metrics[key] = cur
	mr.updated = time.Now()
	return cur
}

// Delete removes key.
func (mr *MetricsRegistry) Delete(key string) {
	mr.mu.Lock()
	delete(mr.metrics, key)
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Updated returns the time of the last change.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}
