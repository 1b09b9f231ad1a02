package admin

import (
	"github.com/JakeFAU/research-admin/internal/task"
)

// ProgressView is the state the reindex panel renders.
type ProgressView struct {
	TaskID          string
	TaskType        string
	Status          task.Status
	TotalEstimate   int
	TotalItems      int
	ProcessedItems  int
	FailedItems     int
	CurrentItem     string
	Message         string
	Errors          []task.ItemError
	CancelRequested bool
	// Done is set once a terminal snapshot was observed.
	Done bool
	// Err holds the transport failure that ended the stream, if any.
	Err error
}

// Percent returns processed/total as a percentage, falling back to the
// launch estimate while the stream has not reported a total yet.
func (v ProgressView) Percent() float64 {
	total := v.TotalItems
	if total <= 0 {
		total = v.TotalEstimate
	}
	if total <= 0 {
		return 0
	}
	return float64(v.ProcessedItems) / float64(total) * 100
}

// Active reports whether the view still expects progress.
func (v ProgressView) Active() bool {
	return v.TaskID != "" && !v.Done && v.Err == nil
}

func (v ProgressView) clone() ProgressView {
	cp := v
	if v.Errors != nil {
		cp.Errors = append([]task.ItemError(nil), v.Errors...)
	}
	return cp
}

// withEvent returns the view after applying one snapshot. The errors list is
// replaced wholesale since every snapshot carries the cumulative list.
func (v ProgressView) withEvent(evt task.ProgressEvent) ProgressView {
	next := v.clone()
	if evt.TaskType != "" {
		next.TaskType = evt.TaskType
	}
	next.Status = evt.Status
	next.TotalItems = evt.TotalItems
	next.ProcessedItems = evt.ProcessedItems
	next.FailedItems = evt.FailedItems
	next.CurrentItem = evt.CurrentItem
	next.Message = evt.Message
	next.Errors = append([]task.ItemError(nil), evt.Errors...)
	if evt.Status.IsTerminal() {
		next.Done = true
		next.CurrentItem = ""
	}
	return next
}
