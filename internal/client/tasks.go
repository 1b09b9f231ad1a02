package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JakeFAU/research-admin/internal/task"
)

const (
	reindexPath = "/api/admin/reindex"
	tasksPath   = "/api/admin/tasks/"
)

// LaunchReindex asks the backend to start a reindex task.
func (c *Client) LaunchReindex(ctx context.Context, req task.LaunchRequest) (task.LaunchResponse, error) {
	var resp task.LaunchResponse
	if _, err := c.do(ctx, http.MethodPost, reindexPath, req, &resp, http.StatusAccepted, http.StatusOK, http.StatusCreated); err != nil {
		return task.LaunchResponse{}, fmt.Errorf("launch reindex: %w", err)
	}
	if resp.TaskID == "" {
		return task.LaunchResponse{}, errors.New("launch reindex: response carried no task id")
	}
	return resp, nil
}

// CancelTask requests cooperative cancellation. The backend may keep
// reporting progress until the task observes the request.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	if taskID == "" {
		return errors.New("cancel task: task id is required")
	}
	_, err := c.do(ctx, http.MethodPost, tasksPath+url.PathEscape(taskID)+"/cancel", nil, nil,
		http.StatusOK, http.StatusAccepted, http.StatusNoContent)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, mapTaskError(err))
	}
	return nil
}

// TaskStatus fetches the latest snapshot of a task. Callers use it as a
// fallback when a progress stream fails.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (task.ProgressEvent, error) {
	if taskID == "" {
		return task.ProgressEvent{}, errors.New("task status: task id is required")
	}
	var evt task.ProgressEvent
	if _, err := c.do(ctx, http.MethodGet, tasksPath+url.PathEscape(taskID), nil, &evt, http.StatusOK); err != nil {
		return task.ProgressEvent{}, fmt.Errorf("task status %s: %w", taskID, mapTaskError(err))
	}
	return evt, nil
}

// mapTaskError wraps task sentinels around the matching status codes while
// keeping the *APIError reachable through errors.As.
func mapTaskError(err error) error {
	switch StatusCode(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", task.ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", task.ErrAlreadyTerminal, err)
	default:
		return err
	}
}
