package main

import (
	"fmt"

	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/migration"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	"github.com/smallbiznis/rosterpay/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded schema migrations to the configured database.

Postgres uses the versioned SQL migrations. Other dialects are migrated
from the gorm models.

Examples:
  rosterpayctl migrate
  rosterpayctl migrate --status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log, err := logger.New(nil, logger.Config{
				ServiceName: cfg.AppName,
				Environment: cfg.Environment,
				Level:       "info",
				Format:      "console",
			})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			conn, err := db.Open(nil, db.FromConfig(cfg), log)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if !statusOnly {
				if err := migration.Apply(conn); err != nil {
					return err
				}
				log.Info("migrations applied", zap.String("dialect", conn.Dialector.Name()))
			}

			if conn.Dialector.Name() != "postgres" {
				fmt.Fprintf(cmd.OutOrStdout(), "dialect %s: schema managed by auto migrate\n", conn.Dialector.Name())
				return nil
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "print the schema version without applying migrations")

	return cmd
}
