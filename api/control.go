// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control manages dynamic config and runtime metrics.
type Control interface {
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error
	// Stats merges metrics and debug probe output.
	Stats() map[string]any
	// OnReload registers fn to run after every SetConfig with the changed keys.
	OnReload(fn func(changed map[string]any))
	SetMetric(key string, value any)
	AddMetric(key string, delta int64)
	RegisterDebugProbe(name string, fn func() any)
}
