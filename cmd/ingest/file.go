package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/billing-ingest/cmd/api"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/parser"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/service"
)

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Import one report file",
	Long: `Import one report file and print its outcome.

The report kind is taken from --kind. Files named like parking operator
exports (Parking_<operator>_..., ..._mParking_...) default to the parking
kind, and files named like provider reports (Servis__SDP_...,
Servis_MicropaymentMerchantReport_...) to the provider kind.`,
	Example: `  # Prepaid report of one organisation
  billing-ingest file ./prepaid_jan.xlsx --kind prepaid --owner 6f1c...

  # Provider report, provider read from the filename
  billing-ingest file ./Servis__SDP_NTH_Apps_20250131.xlsx --json

  # Parking operator report, operator read from the filename
  billing-ingest file ./Parking_CITY_PARK_20250131.xls`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	rootCmd.AddCommand(fileCmd)

	fileCmd.Flags().String("kind", "", "Report kind (prepaid, provider, monthly, parking)")
	fileCmd.Flags().String("owner", "", "Organisation id for prepaid reports")
	fileCmd.Flags().String("provider", "", "Provider id, instead of reading it from the file")
	fileCmd.Flags().Bool("json", false, "Print the outcome as JSON")
}

func runFile(cmd *cobra.Command, args []string) error {
	path := args[0]
	kindFlag, _ := cmd.Flags().GetString("kind")
	ownerFlag, _ := cmd.Flags().GetString("owner")
	providerFlag, _ := cmd.Flags().GetString("provider")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	req, err := fileRequest(path, kindFlag, ownerFlag, providerFlag)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	req.Data = data

	return withDependencies(func(deps *api.Dependencies) error {
		outcome, err := deps.ImportService.Import(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), outcome)
		}
		printOutcome(cmd.OutOrStdout(), outcome)
		return nil
	})
}

// fileRequest validates the flags of an import
func fileRequest(path, kindFlag, ownerFlag, providerFlag string) (service.FileRequest, error) {
	req := service.FileRequest{Name: filepath.Base(path)}

	switch {
	case kindFlag != "":
		kind, ok := model.ParseReportKind(kindFlag)
		if !ok {
			return req, fmt.Errorf("unknown report kind %q", kindFlag)
		}
		req.Kind = kind
	case parser.IsParkingReportName(req.Name):
		req.Kind = model.ReportParking
	case parser.ParseReportFilename(req.Name, nil).Format != parser.FormatUnknown:
		req.Kind = model.ReportProvider
	default:
		return req, fmt.Errorf("--kind is required for %s", req.Name)
	}

	if ownerFlag != "" {
		id, err := uuid.Parse(ownerFlag)
		if err != nil {
			return req, fmt.Errorf("--owner: %w", err)
		}
		req.OwnerID = id
	}
	if providerFlag != "" {
		id, err := uuid.Parse(providerFlag)
		if err != nil {
			return req, fmt.Errorf("--provider: %w", err)
		}
		req.ProviderID = &id
	}
	return req, nil
}

func printOutcome(w io.Writer, o *model.ImportOutcome) {
	status := "complete"
	switch {
	case o.Partial:
		status = "partial"
	case !o.Complete():
		status = "completed with errors"
	}

	fmt.Fprintf(w, "%s (%s): %s\n", o.FileName, o.Kind, status)
	fmt.Fprintf(w, "  records    %d\n", o.TotalRecords)
	fmt.Fprintf(w, "  inserted   %d\n", o.Inserted)
	fmt.Fprintf(w, "  updated    %d\n", o.Updated)
	fmt.Fprintf(w, "  duplicates %d\n", o.Duplicates)
	fmt.Fprintf(w, "  skipped    %d\n", o.Skipped)
	fmt.Fprintf(w, "  failed     %d\n", o.Failed)
	if o.TotalAmount != nil {
		fmt.Fprintf(w, "  amount     %s\n", o.TotalAmount.Display())
	}
	if o.DateRange != nil {
		fmt.Fprintf(w, "  period     %s .. %s\n", o.DateRange.From.Format("2006-01-02"), o.DateRange.To.Format("2006-01-02"))
	}
	p := o.Provisioning
	fmt.Fprintf(w, "  services   %d created, %d linked\n", p.Created, p.Linked)

	for _, warn := range o.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for _, e := range o.Errors {
		fmt.Fprintf(w, "error: %s\n", e.Error())
	}
}
