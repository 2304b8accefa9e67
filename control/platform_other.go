//go:build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>

package control

import "runtime"

// RegisterPlatformProbes sets generic debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
