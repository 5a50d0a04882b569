package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/billing-ingest/cmd/api"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/service"
)

var summaryCmd = &cobra.Command{
	Use:     "summary",
	Short:   "Show an owner's ledger totals per service for one month",
	Example: `  billing-ingest summary --owner 6f1c... --month 2025-01`,
	Args:    cobra.NoArgs,
	RunE:    runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().String("owner", "", "Owner id (organisation or provider)")
	summaryCmd.Flags().String("month", "", "Month as YYYY-MM")
	summaryCmd.Flags().Bool("json", false, "Print the summary as JSON")
	_ = summaryCmd.MarkFlagRequired("owner")
	_ = summaryCmd.MarkFlagRequired("month")
}

func runSummary(cmd *cobra.Command, args []string) error {
	ownerFlag, _ := cmd.Flags().GetString("owner")
	monthFlag, _ := cmd.Flags().GetString("month")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ownerID, err := uuid.Parse(ownerFlag)
	if err != nil {
		return fmt.Errorf("--owner: %w", err)
	}
	month, err := service.ParseMonth(monthFlag)
	if err != nil {
		return err
	}

	return withDependencies(func(deps *api.Dependencies) error {
		summary, err := deps.ImportService.MonthSummary(cmd.Context(), ownerID, month)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), summary)
		}
		return printSummary(cmd.OutOrStdout(), summary)
	})
}

func printSummary(w io.Writer, s *service.MonthSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "SERVICE\tDAYS\tQUANTITY\tAMOUNT\t\n")
	for _, svc := range s.Services {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", svc.ServiceName, svc.Days, svc.Quantity.String(), svc.Amount.Display())
	}
	fmt.Fprintf(tw, "TOTAL %s\t\t%s\t%s\t\n", s.Month, s.TotalQuantity.String(), s.TotalAmount.Display())
	return tw.Flush()
}
