// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control using control package primitives,
// and exporting reactor, watchdog and executor state through it.

package adapters

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/watchdog"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/reactor"
)

// Configuration keys understood by the bindings below.
const (
	KeyDispatcherSize  = "dispatcher.size"
	KeyExecutorWorkers = "executor.workers"
)

type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
	hooks   *control.ReloadHooks
	log     logger.LLogger
}

var (
	_ api.Control          = (*ControlAdapter)(nil)
	_ reactor.PoolListener = (*ControlAdapter)(nil)
)

func NewControlAdapter(l logger.LLogger) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
		hooks:   control.NewReloadHooks(),
		log:     logger.OrDefault(l),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

// Config exposes the typed getters of the underlying store.
func (c *ControlAdapter) Config() *control.ConfigStore { return c.config }

// Stats runs the reload hooks so derived gauges are fresh, then returns
// metrics and debug probes in one map.
func (c *ControlAdapter) Stats() map[string]any {
	c.hooks.TriggerSync()
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func(changed map[string]any)) {
	c.config.OnReload(fn)
}

// Reload runs the hooks registered by the bindings, e.g. on SIGHUP.
func (c *ControlAdapter) Reload() {
	c.hooks.TriggerSync()
}

// Hooks returns the reload hooks of this adapter.
func (c *ControlAdapter) Hooks() *control.ReloadHooks { return c.hooks }

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) AddMetric(key string, delta int64) {
	c.metrics.Add(key, delta)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// OnDispatcherAdded implements reactor.PoolListener.
func (c *ControlAdapter) OnDispatcherAdded(d *reactor.Dispatcher) {
	c.metrics.Add("dispatcher.added", 1)
	c.debug.RegisterProbe("dispatcher."+d.Name(), func() any { return d.Stats() })
}

// OnDispatcherRemoved implements reactor.PoolListener.
func (c *ControlAdapter) OnDispatcherRemoved(d *reactor.Dispatcher) {
	c.metrics.Add("dispatcher.removed", 1)
	c.debug.UnregisterProbe("dispatcher." + d.Name())
}

// BindPool exports the pool counters and lets KeyDispatcherSize resize the
// pool at runtime. Dispatchers already in the pool get their probes now.
// The returned func undoes the binding.
func (c *ControlAdapter) BindPool(p *reactor.DispatcherPool) (unbind func()) {
	for _, d := range p.Dispatchers() {
		c.debug.RegisterProbe("dispatcher."+d.Name(), func() any { return d.Stats() })
	}
	p.AddListener(c)
	poolProbe := "pool." + p.Name()
	rateKey := poolProbe + ".accepted_per_sec"
	c.debug.RegisterProbe(poolProbe, func() any { return p.Stats() })
	unsubscribe := c.config.Subscribe(func(changed map[string]any) {
		if _, ok := changed[KeyDispatcherSize]; !ok {
			return
		}
		n, ok := c.config.GetInt(KeyDispatcherSize)
		if !ok {
			c.log.Warn("[Control] ignoring %s=%v", KeyDispatcherSize, changed[KeyDispatcherSize])
			return
		}
		if err := p.SetSize(n); err != nil {
			c.log.Warn("[Control] resizing pool %s to %d: %v", p.Name(), n, err)
			return
		}
		c.log.Info("[Control] pool %s resized to %d", p.Name(), n)
	})
	unhook := c.hooks.Register(func() {
		c.metrics.Set(rateKey, p.AcceptedRatePerSec())
	})
	return func() {
		unhook()
		unsubscribe()
		p.RemoveListener(c)
		c.debug.UnregisterProbe(poolProbe)
		for _, d := range p.Dispatchers() {
			c.debug.UnregisterProbe("dispatcher." + d.Name())
		}
		c.metrics.Delete(rateKey)
	}
}

// BindWatchdog exports the watchdog counters.
func (c *ControlAdapter) BindWatchdog(name string, w *watchdog.Watchdog) (unbind func()) {
	probe := "watchdog." + name
	c.debug.RegisterProbe(probe, func() any { return w.Stats() })
	return func() { c.debug.UnregisterProbe(probe) }
}

// BindExecutor exports the worker count and lets KeyExecutorWorkers resize
// the executor at runtime.
func (c *ControlAdapter) BindExecutor(e api.Executor) (unbind func()) {
	c.debug.RegisterProbe("executor.workers", func() any { return e.NumWorkers() })
	unsubscribe := c.config.Subscribe(func(changed map[string]any) {
		if _, ok := changed[KeyExecutorWorkers]; !ok {
			return
		}
		if n, ok := c.config.GetInt(KeyExecutorWorkers); ok && n > 0 {
			e.Resize(n)
		}
	})
	return func() {
		unsubscribe()
		c.debug.UnregisterProbe("executor.workers")
	}
}
