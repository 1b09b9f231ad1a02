package progress

import (
	"context"

	"github.com/JakeFAU/research-admin/internal/task"
)

// Sink consumes batches of progress snapshots. Batches arrive in emission
// order from a single goroutine; implementations must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []task.ProgressEvent) error
	Close(ctx context.Context) error
}

// Emitter publishes individual snapshots; Hub satisfies this interface so task
// runners stay agnostic about how snapshots are buffered or delivered.
type Emitter interface {
	Emit(evt task.ProgressEvent)
}
