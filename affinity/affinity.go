// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

// SetAffinity pins the calling OS thread to a given logical CPU. The caller
// must hold runtime.LockOSThread. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// AllowedCPUs returns the logical CPUs the process may run on.
func AllowedCPUs() ([]int, error) {
	return allowedCPUsPlatform()
}
