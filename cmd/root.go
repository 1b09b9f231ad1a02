// Package cmd defines the researchadmin CLI: launching and following reindex
// tasks, inspecting or cancelling tasks, and running the mock backend.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/client"
	"github.com/JakeFAU/research-admin/internal/config"
	"github.com/JakeFAU/research-admin/internal/logging"
	"github.com/JakeFAU/research-admin/internal/subscription"
)

// envKeyType is the key for storing the Env in the context.
type envKeyType string

const envKey envKeyType = "env"

// Env carries what every subcommand needs, built once per invocation.
type Env struct {
	Config config.Config
	Logger *zap.Logger
}

// newEnv is the environment factory. It is a variable so tests can inject
// their own configuration.
var newEnv = func(configPath, baseURL string) (*Env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if baseURL != "" {
		cfg.API.BaseURL = baseURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &Env{Config: cfg, Logger: logger}, nil
}

// APIClient builds the task control client.
func (e *Env) APIClient() (*client.Client, error) {
	c, err := client.New(client.Config{
		BaseURL: e.Config.API.BaseURL,
		Timeout: e.Config.APITimeout(),
		Logger:  e.Logger.Named("client"),
	})
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}
	return c, nil
}

// Subscriber builds the progress stream subscriber.
func (e *Env) Subscriber() (*subscription.Subscriber, error) {
	s, err := subscription.NewSubscriber(subscription.Config{
		BaseURL:      e.Config.API.BaseURL,
		ProgressPath: e.Config.API.ProgressPath,
		Logger:       e.Logger.Named("subscription"),
	})
	if err != nil {
		return nil, fmt.Errorf("build progress subscriber: %w", err)
	}
	return s, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		baseURL string
	)
	cmd := &cobra.Command{
		Use:   "researchadmin",
		Short: "Admin console for the research platform's background tasks.",
		Long: `researchadmin launches reindex tasks, follows their live progress stream,
and inspects or cancels running tasks. The mock-server subcommand runs a local
simulation of the backend for demos and development.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv(cfgFile, baseURL)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, env))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if env, ok := cmd.Context().Value(envKey).(*Env); ok && env != nil {
				_ = env.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "API base URL, overrides api.base_url")

	cmd.AddCommand(
		newReindexCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newMockServerCmd(),
	)
	return cmd
}

func resolveEnv(ctx context.Context) (*Env, error) {
	env, ok := ctx.Value(envKey).(*Env)
	if !ok || env == nil {
		return nil, errors.New("environment not initialized")
	}
	return env, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
