// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics and debug introspection for the reactor.
//
// Provides concurrent-safe state handling primitives including:
//   - snapshot config reads with change listeners for hot reload
//   - a metrics registry for read-only counters
//   - debug probes evaluated on demand
package control
