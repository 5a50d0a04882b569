package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/billing-ingest/cmd/api"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/normalizer"
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage provider name aliases",
	Long: `Provider aliases map spellings found in report filenames and rows to a
canonical provider name, for example "Mobi Games" to MOBIGAMES.`,
}

var aliasAddCmd = &cobra.Command{
	Use:     "add <pattern> <provider>",
	Short:   "Add or update an alias",
	Example: `  billing-ingest alias add "Mobi" MOBILTEL --type contains`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		matchType, _ := cmd.Flags().GetString("type")
		matchType = strings.ToLower(matchType)
		if !normalizer.ValidMatchType(matchType) {
			return fmt.Errorf("--type must be exact, contains or regex, got %q", matchType)
		}

		return withAliasStore(func(store *normalizer.AliasStore) error {
			saved, err := store.Save(cmd.Context(), normalizer.ProviderAlias{
				MatchPattern: args[0],
				MatchType:    matchType,
				ProviderName: args[1],
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "alias %s: %q (%s) -> %s\n", saved.ID, saved.MatchPattern, saved.MatchType, saved.ProviderName)
			return nil
		})
	},
}

var aliasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List aliases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAliasStore(func(store *normalizer.AliasStore) error {
			aliases, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return writeJSON(cmd.OutOrStdout(), aliases)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPATTERN\tTYPE\tPROVIDER\tHITS")
			for _, a := range aliases {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", a.ID, a.MatchPattern, a.MatchType, a.ProviderName, a.MatchCount)
			}
			return tw.Flush()
		})
	},
}

var aliasRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("alias id: %w", err)
		}
		return withAliasStore(func(store *normalizer.AliasStore) error {
			return store.Delete(cmd.Context(), id)
		})
	},
}

func init() {
	rootCmd.AddCommand(aliasCmd)
	aliasCmd.AddCommand(aliasAddCmd, aliasListCmd, aliasRmCmd)

	aliasAddCmd.Flags().String("type", normalizer.MatchExact, "Match type (exact, contains, regex)")
	aliasListCmd.Flags().Bool("json", false, "Print aliases as JSON")
}

func withAliasStore(fn func(store *normalizer.AliasStore) error) error {
	database, err := api.OpenDatabase(current.cfg.Database, current.logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.RunMigrations(); err != nil {
		return err
	}
	return fn(normalizer.NewAliasStore(database.Pool))
}
