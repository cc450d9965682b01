package commands

import (
	"github.com/spf13/cobra"

	"github.com/inlethq/inlet/db"
	"github.com/inlethq/inlet/logger"
)

// MigrateCmd applies pending database migrations and exits.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := logger.Logger

		conn, err := db.Open(cfg.Database.Path, log)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(conn, log); err != nil {
			return err
		}

		log.Infow("Migrations applied", "path", cfg.Database.Path)
		return nil
	},
}
