package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/research-admin/internal/task"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Print the latest snapshot of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			api, err := env.APIClient()
			if err != nil {
				return err
			}
			evt, err := api.TaskStatus(cmd.Context(), args[0])
			if errors.Is(err, task.ErrNotFound) {
				return fmt.Errorf("task %s does not exist", args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(evt); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				return nil
			}
			renderEvent(out, evt)
			if evt.Status.IsTerminal() {
				renderSummary(out, evt.Status, evt.Message, evt.Errors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot as JSON")
	return cmd
}
