package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/research-admin/internal/subscription"
	"github.com/JakeFAU/research-admin/internal/task"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch TASK_ID",
		Short: "Follow the progress stream of an existing task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, args[0])
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, taskID string) error {
	env, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	subs, err := env.Subscriber()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var (
		last      task.ProgressEvent
		streamErr error
	)
	// Handlers run serially on the subscription's reader goroutine, and
	// Done closes only after the last one returned.
	sub, err := subs.Open(taskID,
		func(evt task.ProgressEvent) {
			last = evt
			renderEvent(out, evt)
		},
		func(err error) { streamErr = err },
	)
	if err != nil {
		return fmt.Errorf("watch %s: %w", taskID, err)
	}
	defer sub.Dispose()

	select {
	case <-sub.Done():
	case <-ctx.Done():
		sub.Dispose()
		<-sub.Done()
	}

	switch sub.State() {
	case subscription.StateClosedByTerminalEvent:
		renderSummary(out, last.Status, last.Message, last.Errors)
		return nil
	case subscription.StateClosedByError:
		return fmt.Errorf("watch %s: %w", taskID, streamErr)
	default:
		fmt.Fprintln(out, "stopped watching")
		return nil
	}
}
