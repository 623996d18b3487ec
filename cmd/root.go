// Package cmd defines and implements the CLI commands for the codehub-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/codehub-crawler/internal/app"
	"github.com/JakeFAU/codehub-crawler/internal/config"
	"github.com/JakeFAU/codehub-crawler/internal/logging"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries what every subcommand needs once flags are parsed.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "codehub-crawler",
		Short: "Crawls repository statistics for code-hosting users.",
		Long: `codehub-crawler accepts crawl tasks for code-hosting users, fans out one
request per repository, and records stars and forks as they arrive. It runs
as an HTTP service, a one-shot CLI crawl, or a local emulator of the
code-hosting API.`,
		SilenceUsage: true,

		// Loads configuration and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				// Sync fails on terminals; nothing useful to do about it.
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment uses the CODEHUB_ prefix")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newTaskCmd(),
		newMigrateCmd(),
		newEmulatorCmd(),
	)
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("runtime not initialized")
	}
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// buildApp constructs the service container for commands that run tasks.
func buildApp(ctx context.Context) (*app.App, *runtime, error) {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, rt, nil
}

// closeApp releases the container and logs any shutdown error.
func closeApp(a *app.App, logger *zap.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("error closing application services", zap.Error(err))
	}
}

// Execute is the main entry point.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
