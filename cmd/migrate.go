package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/codehub-crawler/internal/app"
	"github.com/JakeFAU/codehub-crawler/internal/clock/system"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema for the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			cfg.Storage.AutoMigrate = false
			store, err := app.OpenStore(cmd.Context(), cfg, system.New(), rt.logger.Named("store"))
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					rt.logger.Warn("close store failed", zap.Error(err))
				}
			}()

			m, ok := store.(app.Migrator)
			if !ok {
				rt.logger.Info("storage driver has no schema", zap.String("driver", cfg.Storage.Driver))
				return nil
			}
			if err := m.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Storage.Driver, err)
			}
			rt.logger.Info("schema up to date", zap.String("driver", cfg.Storage.Driver))
			return nil
		},
	}
}
