package main

import (
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/billing-ingest/cmd/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the import API and the scheduled inbox sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			current.cfg.Server.Port = port
		}
		if cmd.Flags().Changed("schedule") {
			current.cfg.Schedule.Enabled, _ = cmd.Flags().GetBool("schedule")
		}
		return withDependencies(func(deps *api.Dependencies) error {
			return deps.Serve(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Override SERVER_PORT")
	serveCmd.Flags().Bool("schedule", false, "Sweep the inbox on SCHEDULE_SPEC (overrides SCHEDULE_ENABLED)")
}
