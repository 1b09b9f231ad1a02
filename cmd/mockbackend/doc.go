// Package main hosts the simulated research backend as a standalone service.
//
// Architecture overview:
//   - HTTP API: mockbackend.Server exposes health, metrics, reindex launch, task status, cancellation, and a chat
//     echo. Launch requests are validated, stored in the in-memory TaskStore and enqueued for the runner. A second
//     launch while a reindex is unfinished is rejected with 409 unless force is set.
//   - Runner & queue: tasks flow through a bounded in-memory queue sized by mock.queue_depth and are fanned out to a
//     fixed worker pool sized by mock.workers. Each item takes mock.item_delay_ms; items listed in mock.failing_items
//     fail with an item error but do not stop the task.
//   - Progress fanout: every snapshot is emitted to the progress Hub, which batches and hands them to the stream
//     Broker (SSE listeners), the Prometheus sink and the optional log sink.
//   - Streaming: GET /api/admin/tasks/{taskId}/progress serves text/event-stream. Late subscribers receive the latest
//     snapshot first; heartbeats are comment frames every mock.heartbeat_seconds. The stream ends after the terminal
//     "complete" event.
//   - Configuration & plumbing: Viper populates config from file, .env and RESEARCH_ADMIN_* variables; zap provides
//     structured logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Cancellation is cooperative: POST .../cancel marks the task and the runner stops before its next item.
//   - Shutdown: SIGINT/SIGTERM cancels the runner, finishes running tasks as failed, drains HTTP connections
//     (including open streams) and flushes the progress hub.
//   - Writes can be throttled per client with mock.write_rps and mock.write_burst; rejected calls get 429.
//
// Quick checklist:
//   - Run locally: go run ./cmd/mockbackend -config config.yaml (or rely solely on env overrides).
//   - Point the CLI at it: researchadmin --base-url http://localhost:8080 reindex
package main
