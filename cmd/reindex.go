package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/research-admin/internal/admin"
	"github.com/JakeFAU/research-admin/internal/task"
)

const cancelRequestTimeout = 10 * time.Second

// errInterrupted is returned when the user interrupts twice.
var errInterrupted = errors.New("interrupted")

func newReindexCmd() *cobra.Command {
	var req task.LaunchRequest
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Launch a reindex task and follow its progress",
		Long: `Launches a reindex of the research sessions and renders the live progress
stream until the task finishes. The first interrupt (Ctrl-C) asks the backend
to cancel the task and keeps following until it reports the cancellation; a
second interrupt exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			interrupts := make(chan os.Signal, 2)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupts)
			return runReindex(cmd, req, interrupts)
		},
	}
	cmd.Flags().BoolVar(&req.Force, "force", false, "start even if another reindex is running")
	cmd.Flags().StringSliceVar(&req.SessionIDs, "session", nil, "restrict the reindex to these session ids")
	return cmd
}

func runReindex(cmd *cobra.Command, req task.LaunchRequest, interrupts <-chan os.Signal) error {
	env, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	api, err := env.APIClient()
	if err != nil {
		return err
	}
	subs, err := env.Subscriber()
	if err != nil {
		return err
	}
	ctrl := admin.NewReindexController(api, subs, admin.Options{
		PollOnError: env.Config.API.PollOnError,
		Logger:      env.Logger.Named("admin"),
	})
	defer ctrl.Close()

	out := cmd.OutOrStdout()
	resp, err := ctrl.Start(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "launched reindex %s (%d items)\n", resp.TaskID, resp.TotalItemEstimate)
	return follow(cmd.Context(), out, ctrl, interrupts)
}

// follow renders controller updates until the task ends, the stream fails,
// or the user interrupts twice.
func follow(ctx context.Context, out io.Writer, ctrl *admin.ReindexController, interrupts <-chan os.Signal) error {
	cancelSent := false
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("follow reindex: %w", ctx.Err())
		case <-interrupts:
			if cancelSent {
				return errInterrupted
			}
			cancelSent = true
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelRequestTimeout)
			err := ctrl.Cancel(cctx)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "cancel failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "cancellation requested, waiting for the task to stop (interrupt again to exit)")
		case v := <-ctrl.Updates():
			renderView(out, v)
			if v.Done {
				renderSummary(out, v.Status, v.Message, v.Errors)
				if v.Status == task.StatusFailed {
					return fmt.Errorf("reindex %s failed", v.TaskID)
				}
				return nil
			}
			if v.Err != nil {
				return fmt.Errorf("progress stream for %s failed: %w", v.TaskID, v.Err)
			}
		}
	}
}
