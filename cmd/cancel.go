package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/research-admin/internal/task"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Request cancellation of a running task",
		Long: `Asks the backend to stop a task. Cancellation is cooperative: the task keeps
running until it observes the request, so use watch to see it end.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			api, err := env.APIClient()
			if err != nil {
				return err
			}
			taskID := args[0]
			err = api.CancelTask(cmd.Context(), taskID)
			switch {
			case errors.Is(err, task.ErrNotFound):
				return fmt.Errorf("task %s does not exist", taskID)
			case errors.Is(err, task.ErrAlreadyTerminal):
				fmt.Fprintf(cmd.OutOrStdout(), "task %s already finished\n", taskID)
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", taskID)
			return nil
		},
	}
}
