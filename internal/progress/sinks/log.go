package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/task"
)

// LogSink emits structured logs for each progress snapshot. Terminal
// snapshots are logged at info level, the rest at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each snapshot in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []task.ProgressEvent) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("task_id", evt.TaskID),
			zap.String("task_type", evt.TaskType),
			zap.String("status", string(evt.Status)),
			zap.Int("processed", evt.ProcessedItems),
			zap.Int("total", evt.TotalItems),
			zap.Int("failed", evt.FailedItems),
		}
		if evt.CurrentItem != "" {
			fields = append(fields, zap.String("current_item", evt.CurrentItem))
		}
		if evt.Status.IsTerminal() {
			fields = append(fields, zap.Int("errors", len(evt.Errors)))
			s.logger.Info("task finished", fields...)
			continue
		}
		s.logger.Debug("task progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
