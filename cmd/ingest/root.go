package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/billing-ingest/cmd/api"
	"github.com/FACorreiaa/billing-ingest/pkg/config"
	"github.com/FACorreiaa/billing-ingest/pkg/logger"
)

var version = "dev"

// app is what the root command's pre-run prepares for every subcommand
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

var current app

var rootCmd = &cobra.Command{
	Use:   "billing-ingest",
	Short: "Import telecom billing reports into the transaction ledger",
	Long: `billing-ingest reads prepaid, provider and monthly VAS billing reports
(.xlsx or .csv), provisions the providers, services and contracts they mention
and reconciles their line items into the transaction ledger.

Configuration is read from the environment and an optional .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Log.Level = level
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			cfg.Log.Level = "debug"
			cfg.Log.Format = "text"
		}
		log, err := logger.New(cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(log)
		current = app{cfg: cfg, logger: log}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Debug logging in text format")
}

// withDependencies runs fn with the full dependency graph and cleans up afterwards
func withDependencies(fn func(deps *api.Dependencies) error) error {
	deps, err := api.InitDependencies(current.cfg, current.logger)
	if err != nil {
		return err
	}
	defer deps.Cleanup()
	return fn(deps)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
