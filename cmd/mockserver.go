package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/server"
)

func newMockServerCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local simulation of the research backend",
		Long: `Serves the task endpoints, the SSE progress stream and the chat echo from
memory. Reindex tasks walk their items with the configured per-item delay and
fail the items listed in mock.failing_items.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := env.Config
			if cmd.Flags().Changed("port") {
				cfg.Mock.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			zap.ReplaceGlobals(env.Logger)

			app, err := server.Build(cfg, nil, env.Logger)
			if err != nil {
				return fmt.Errorf("build mock backend: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := app.Run(ctx, cfg.Mock.Addr()); err != nil {
				return fmt.Errorf("run mock backend: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port, overrides mock.port")
	return cmd
}
