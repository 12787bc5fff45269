package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nexasecurity/nexasec/internal/config"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/internal/sql"
	"github.com/nexasecurity/nexasec/pkg/types"
)

type connectorFactory func(config.DatabaseConfig, types.Logger) (sql.DBConnector, error)

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := log.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			ctx := log.WithLogger(cmd.Context(), logger)
			return runMigrate(ctx, cfg.Database, sql.CreateDBConnector, sql.Migrate)
		},
	}
}

func runMigrate(ctx context.Context, cfg config.DatabaseConfig, newConnector connectorFactory, migrate func(*gorm.DB) error) error {
	logger := log.NewLogger(ctx)
	connector, err := newConnector(cfg, logger)
	if err != nil {
		return err
	}
	database, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrate(database); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("database migrated", zap.String("driver", cfg.Driver))
	return nil
}
