package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/billing-ingest/cmd/api"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/service"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Import every report waiting in the inbox",
	Long: `Sweep the report inbox once. Imported files are moved to the processed
directory (provider reports to providers/<provider>/reports/<year>), files
that fail are moved to the errors directory, and files cut short stay in the
inbox for the next sweep.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("dir", "", "Inbox directory (overrides INGEST_INBOX_DIR)")
	batchCmd.Flags().Int("workers", 0, "Files imported in parallel (overrides INGEST_WORKERS)")
	batchCmd.Flags().String("kind", "", "Report kind of files that are not provider reports (overrides INGEST_DEFAULT_KIND)")
	batchCmd.Flags().String("owner", "", "Organisation id for prepaid reports (overrides INGEST_DEFAULT_OWNER_ID)")
	batchCmd.Flags().Bool("json", false, "Print the batch result as JSON")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ingest := &current.cfg.Ingest
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		ingest.InboxDir = dir
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		ingest.Workers = workers
	}
	if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
		ingest.DefaultKind = kind
	}
	if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
		ingest.DefaultOwnerID = owner
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return withDependencies(func(deps *api.Dependencies) error {
		result, err := deps.BatchRunner.Run(cmd.Context())
		if err != nil {
			return err
		}
		if deps.Metrics != nil {
			deps.Metrics.ObserveBatch(result.Took)
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		printBatch(cmd.OutOrStdout(), result)
		if result.Totals.Fatal > 0 {
			return fmt.Errorf("%d of %d files failed", result.Totals.Fatal, result.Totals.Files)
		}
		return nil
	})
}

func printBatch(w io.Writer, r *service.BatchResult) {
	for _, f := range r.Files {
		switch {
		case f.Kind == "":
			fmt.Fprintf(w, "skip    %s: %s\n", f.Name, f.Error)
		case f.Outcome == nil:
			fmt.Fprintf(w, "failed  %s: %s\n", f.Name, f.Error)
		case f.Outcome.Partial:
			fmt.Fprintf(w, "partial %s: %d inserted, %d failed, left in inbox\n", f.Name, f.Outcome.Inserted, f.Outcome.Failed)
		default:
			fmt.Fprintf(w, "ok      %s: %d inserted, %d updated, %d duplicates, %d failed\n",
				f.Name, f.Outcome.Inserted, f.Outcome.Updated, f.Outcome.Duplicates, f.Outcome.Failed)
		}
	}

	t := r.Totals
	fmt.Fprintf(w, "\n%d files: %d imported, %d partial, %d failed, %d ignored in %s\n",
		t.Files, t.Imported, t.Partial, t.Fatal, t.Ignored, r.Took.Round(time.Millisecond))
	fmt.Fprintf(w, "records: %d inserted, %d updated, %d duplicates, %d skipped, %d failed\n",
		t.Inserted, t.Updated, t.Duplicates, t.Skipped, t.Failed)
}
