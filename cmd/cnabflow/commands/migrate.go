package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/config"
	"github.com/marmos91/cnabflow/pkg/store/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending schema migrations to the configured PostgreSQL database.

SQLite backends manage their own schema via AutoMigrate at startup and do
not need this command.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	if cfg.Database.Type != config.DatabaseTypePostgres {
		return fmt.Errorf("migrate only applies to the postgres backend, configured type is %q", cfg.Database.Type)
	}

	logger.Info("running database migrations", "type", cfg.Database.Type)

	if err := migrations.Run(cfg.Database.Postgres.DSN()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("migrations completed successfully")
	return nil
}
