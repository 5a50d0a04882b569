package main

import (
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/billing-ingest/cmd/api"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := api.OpenDatabase(current.cfg.Database, current.logger)
		if err != nil {
			return err
		}
		defer database.Close()
		return database.RunMigrations()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
