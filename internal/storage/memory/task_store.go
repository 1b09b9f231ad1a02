// Package memory holds the in-memory stores behind the mock backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/research-admin/internal/task"
)

var (
	// ErrTaskExists is returned when creating a task whose id is taken.
	ErrTaskExists = errors.New("task already exists")
	// ErrActiveTask is returned by CreateExclusive while another task of the
	// same type is unfinished.
	ErrActiveTask = errors.New("an unfinished task of this type exists")
)

// ActiveTaskError names the unfinished task that blocked CreateExclusive.
type ActiveTaskError struct {
	TaskID string
}

func (e *ActiveTaskError) Error() string {
	return fmt.Sprintf("task %s is still running", e.TaskID)
}

// Unwrap lets errors.Is match ErrActiveTask.
func (e *ActiveTaskError) Unwrap() error {
	return ErrActiveTask
}

// TaskRecord is the stored state of one task.
type TaskRecord struct {
	Snapshot        task.ProgressEvent
	Items           []string
	CancelRequested bool
	Submitted       time.Time
	Started         *time.Time
	Finished        *time.Time
}

func (r TaskRecord) clone() TaskRecord {
	cp := r
	cp.Snapshot = r.Snapshot.Clone()
	cp.Items = append([]string(nil), r.Items...)
	return cp
}

// TaskStore provides an in-memory task registry for development/testing.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]TaskRecord
	now   func() time.Time
}

// NewTaskStore constructs a TaskStore stamping records with now.
func NewTaskStore(now func() time.Time) *TaskStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TaskStore{
		tasks: make(map[string]TaskRecord),
		now:   now,
	}
}

// CreateTask stores a new task record.
func (s *TaskStore) CreateTask(_ context.Context, rec TaskRecord) error {
	if err := rec.Snapshot.Validate(); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec)
}

// CreateExclusive stores rec unless another task of the same type has not
// finished yet, in which case it returns an *ActiveTaskError. The check and
// the insert happen under one lock.
func (s *TaskStore) CreateExclusive(_ context.Context, rec TaskRecord) error {
	if err := rec.Snapshot.Validate(); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if active, ok := s.activeLocked(rec.Snapshot.TaskType); ok {
		return &ActiveTaskError{TaskID: active}
	}
	return s.insertLocked(rec)
}

func (s *TaskStore) insertLocked(rec TaskRecord) error {
	id := rec.Snapshot.TaskID
	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("create task %s: %w", id, ErrTaskExists)
	}
	if rec.Submitted.IsZero() {
		rec.Submitted = s.now()
	}
	s.tasks[id] = rec.clone()
	return nil
}

// activeLocked returns the earliest submitted unfinished task of taskType.
func (s *TaskStore) activeLocked(taskType string) (string, bool) {
	var (
		found    bool
		id       string
		earliest time.Time
	)
	for _, rec := range s.tasks {
		if rec.Snapshot.TaskType != taskType || rec.Snapshot.Status.IsTerminal() {
			continue
		}
		if !found || rec.Submitted.Before(earliest) {
			found, id, earliest = true, rec.Snapshot.TaskID, rec.Submitted
		}
	}
	return id, found
}

// DeleteTask removes a task record. Deleting an unknown task is not an error.
func (s *TaskStore) DeleteTask(_ context.Context, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return TaskRecord{}, task.ErrNotFound
	}
	return rec.clone(), nil
}

// UpdateSnapshot replaces the latest snapshot of a task. Snapshots for a task
// that already finished are rejected with task.ErrAlreadyTerminal.
func (s *TaskStore) UpdateSnapshot(_ context.Context, evt task.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[evt.TaskID]
	if !ok {
		return task.ErrNotFound
	}
	if rec.Snapshot.Status.IsTerminal() {
		return task.ErrAlreadyTerminal
	}
	now := s.now()
	if evt.Status == task.StatusRunning && rec.Started == nil {
		rec.Started = pointerTime(now)
	}
	if evt.Status.IsTerminal() {
		rec.Finished = pointerTime(now)
	}
	rec.Snapshot = evt.Clone()
	s.tasks[evt.TaskID] = rec
	return nil
}

// RequestCancel flags a task for cooperative cancellation.
func (s *TaskStore) RequestCancel(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return task.ErrNotFound
	}
	if rec.Snapshot.Status.IsTerminal() {
		return task.ErrAlreadyTerminal
	}
	rec.CancelRequested = true
	s.tasks[taskID] = rec
	return nil
}

// CancelRequested reports whether cancellation was asked for taskID.
func (s *TaskStore) CancelRequested(_ context.Context, taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[taskID].CancelRequested
}

// ListTasks returns every task ordered by submission time.
func (s *TaskStore) ListTasks(_ context.Context) []TaskRecord {
	s.mu.RLock()
	out := make([]TaskRecord, 0, len(s.tasks))
	for _, rec := range s.tasks {
		out = append(out, rec.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.Before(out[j].Submitted)
	})
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
