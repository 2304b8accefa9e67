// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload propagation.

package control

import (
	"fmt"
	"reflect"
	"sync"
	"time"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []listener
	seq       uint64
}

type listener struct {
	id uint64
	fn func(changed map[string]any)
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Get returns the value stored under key.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// GetInt returns key as an int. Integer, float and string values convert.
func (cs *ConfigStore) GetInt(key string) (int, bool) {
	v, ok := cs.Get(key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// GetDuration returns key as a duration. Strings are parsed with
// time.ParseDuration, integers are milliseconds.
func (cs *ConfigStore) GetDuration(key string) (time.Duration, bool) {
	v, ok := cs.Get(key)
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		parsed, err := time.ParseDuration(d)
		return parsed, err == nil
	}
	ms, ok := toInt(v)
	return time.Duration(ms) * time.Millisecond, ok
}

// SetConfig merges new values and notifies reload listeners with the keys
// whose value changed. Listeners run synchronously, outside the lock.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	changed := make(map[string]any)
	for k, v := range newCfg {
		if old, ok := cs.config[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		cs.config[k] = v
		changed[k] = v
	}
	listeners := append([]listener(nil), cs.listeners...)
	cs.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	for _, l := range listeners {
		l.fn(changed)
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(changed map[string]any)) {
	cs.Subscribe(fn)
}

// Subscribe is OnReload returning a func that removes the listener.
func (cs *ConfigStore) Subscribe(fn func(changed map[string]any)) (unsubscribe func()) {
	cs.mu.Lock()
	cs.seq++
	id := cs.seq
	cs.listeners = append(cs.listeners, listener{id: id, fn: fn})
	cs.mu.Unlock()
	return func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		for i, l := range cs.listeners {
			if l.id == id {
				cs.listeners = append(cs.listeners[:i:i], cs.listeners[i+1:]...)
				return
			}
		}
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var i int
		_, err := fmt.Sscan(n, &i)
		return i, err == nil
	}
	return 0, false
}
