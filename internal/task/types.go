// Package task defines the task lifecycle types shared by the admin client,
// the progress subscription, and the simulated backend.
package task

import (
	"errors"
	"fmt"
)

// Status represents the lifecycle state of a background task.
type Status string

// Task status values reported by the backend.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Stream event names pushed on the progress stream.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	// EventMessage is the SSE default when a frame carries no event field.
	EventMessage = "message"
)

// TypeReindex tags reindex tasks.
const TypeReindex = "reindex"

var (
	// ErrNotFound is returned when a task id is unknown.
	ErrNotFound = errors.New("task not found")
	// ErrAlreadyTerminal is returned when cancelling a task that already finished.
	ErrAlreadyTerminal = errors.New("task already reached a terminal state")
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further progress is expected after s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one status to another follows
// pending -> running -> terminal. Repeating the same non-terminal status is
// allowed since every progress snapshot restates it.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	switch from {
	case StatusPending:
		return true
	case StatusRunning:
		return to != StatusPending
	default:
		return false
	}
}

// ItemError records a failure for a single processed item.
type ItemError struct {
	ItemID string `json:"itemId"`
	Error  string `json:"error"`
}

// ProgressEvent is a point-in-time snapshot of task execution state. The
// Errors list is cumulative: every snapshot carries the full list.
type ProgressEvent struct {
	TaskID         string      `json:"taskId"`
	TaskType       string      `json:"taskType"`
	Status         Status      `json:"status"`
	TotalItems     int         `json:"totalItems"`
	ProcessedItems int         `json:"processedItems"`
	FailedItems    int         `json:"failedItems"`
	CurrentItem    string      `json:"currentItem,omitempty"`
	Message        string      `json:"message,omitempty"`
	Errors         []ItemError `json:"errors"`
}

// Validate performs coarse validation before a snapshot is published.
func (e ProgressEvent) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.TotalItems < 0 || e.ProcessedItems < 0 || e.FailedItems < 0 {
		return errors.New("item counters must be >= 0")
	}
	return nil
}

// Percent returns processed/total as a percentage, or 0 when total is unknown.
func (e ProgressEvent) Percent() float64 {
	if e.TotalItems <= 0 {
		return 0
	}
	return float64(e.ProcessedItems) / float64(e.TotalItems) * 100
}

// Clone returns a copy that shares no slices with e.
func (e ProgressEvent) Clone() ProgressEvent {
	cp := e
	if e.Errors != nil {
		cp.Errors = make([]ItemError, len(e.Errors))
		copy(cp.Errors, e.Errors)
	}
	return cp
}

// LaunchRequest carries the parameters accepted by the reindex endpoint.
type LaunchRequest struct {
	Force      bool     `json:"force"`
	SessionIDs []string `json:"sessionIds,omitempty"`
}

// LaunchResponse is returned synchronously when a task is accepted.
type LaunchResponse struct {
	TaskID            string `json:"taskId"`
	TotalItemEstimate int    `json:"totalItemEstimate"`
	ProgressURL       string `json:"progressUrl"`
}
