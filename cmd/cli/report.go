package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/omp"
)

var (
	reportFormat string
	reportFilter string
	reportDelta  string
	reportFile   string
)

// reportCmd represents the report command.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch and delete reports",
	Example: `  openvas-connector report get <report-id> --filter "task_id=<task-id> rows=1000"
  openvas-connector report get <report-id> --filter "task_id=<task-id>" --delta <older-report-id>
  openvas-connector report delete <report-id>`,
}

// reportGetCmd represents the report get command.
var reportGetCmd = &cobra.Command{
	Use:   "get [report-id]",
	Short: "Fetch reports",
	Long: `Fetch one report, or all reports matching the filter when no id is given.
A delta report is only produced when a report id is given and the filter
contains task_id=.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReportGet,
}

// reportDeleteCmd represents the report delete command.
var reportDeleteCmd = &cobra.Command{
	Use:   "delete <report-id>",
	Short: "Delete a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportDelete,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportGetCmd)
	reportCmd.AddCommand(reportDeleteCmd)

	reportGetCmd.Flags().StringVar(&reportFormat, "format", "", "report format id")
	reportGetCmd.Flags().StringVar(&reportFilter, "filter", "", "OMP filter string")
	reportGetCmd.Flags().StringVar(&reportDelta, "delta", "", "report id to compare against")
	reportGetCmd.Flags().StringVarP(&reportFile, "output", "o", "", "write the report to a file instead of stdout")
}

func runReportGet(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		q := omp.ReportQuery{
			Format:        reportFormat,
			Filter:        reportFilter,
			DeltaReportID: reportDelta,
		}
		if len(args) == 1 {
			q.ReportID = args[0]
		}

		resp, err := client.GetReports(ctx, q)
		if err != nil {
			return err
		}
		if reportFile != "" {
			return writeReport(reportFile, resp)
		}
		return printReport(cmd.OutOrStdout(), resp)
	})
}

func runReportDelete(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.DeleteReport(ctx, args[0])
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Report deleted")
	})
}
