package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chrono/internal/config"
	"github.com/nextlevelbuilder/chrono/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	cfg.SetupLogging()

	db, err := pg.OpenDB(cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()

	return pg.Migrate(db)
}
