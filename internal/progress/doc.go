// Package progress queues task progress snapshots on a background goroutine
// and fans them out to pluggable sinks such as structured logs, Prometheus
// collectors, or live SSE listeners. Under backpressure a task's queued
// snapshot is replaced by its newest one; terminal snapshots are never lost.
package progress
