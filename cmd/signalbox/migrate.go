package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Long:  "Runs AutoMigrate for every signalbox table. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			gormDB, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
