package cmd

import (
	"fmt"
	"io"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var auditSettings *config.Settings

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check an existing result table against its receipts",
	Long: `Audit re-reads the receipt behind every row of a result table and reports
rows whose date, amount, currency or vendor no longer agree with it, rows
whose receipt is missing, and receipts backing more than one transaction.
Amounts are compared with the matching options of the reconcile run, so pass
the same --amount-mode, --amount-tolerance and --absolute-amounts.

Examples:
  reconciler audit --results-file results.csv --receipts-dir receipts
  reconciler audit --results-file results.csv --receipts-dir receipts --output-format console
  reconciler audit --results-file results.csv --receipts-dir receipts --fail-on-discrepancy
  reconciler audit --results-file results.csv --receipts-dir receipts --amount-mode tolerance`,

	PreRunE: validateAuditFlags,
	RunE:    runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	flags := auditCmd.Flags()
	flags.String("results-file", "", "result table CSV written by reconcile (required)")
	flags.StringP("receipts-dir", "r", "", "folder of JSON receipts (required)")
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")
	flags.StringP("output-format", "f", string(reporter.FormatCSV), "output format: csv, json, console")
	flags.Bool("fail-on-discrepancy", false, "exit with an error when a high or medium severity discrepancy is found")
	flags.String("amount-mode", "exact", "amount comparison used by reconcile: exact or tolerance")
	flags.Float64("amount-tolerance", 0.01, "maximum amount difference in tolerance mode")
	flags.Bool("absolute-amounts", false, "compare absolute amounts, as reconcile --absolute-amounts does")
}

func validateAuditFlags(cmd *cobra.Command, args []string) error {
	if err := bindCommandFlags(cmd); err != nil {
		return err
	}
	settings := config.LoadSettings(viper.GetViper())

	if settings.ResultsFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "results-file", "", nil).
			WithSuggestion("Pass --results-file with a result table written by 'reconciler reconcile'")
	}
	if settings.ReceiptsDir == "" {
		return errors.ValidationError(errors.CodeMissingField, "receipts-dir", "", nil).
			WithSuggestion("Pass --receipts-dir with the folder of JSON receipts")
	}

	if err := validateFileExists(settings.ResultsFile, "results file"); err != nil {
		return err
	}
	if err := validateDirExists(settings.ReceiptsDir, "receipts folder"); err != nil {
		return err
	}
	if _, err := config.CreateReportConfig(settings.OutputFormat); err != nil {
		return err
	}
	if _, err := config.CreateMatchingConfig(settings); err != nil {
		return err
	}
	if err := validateOutputDir(settings.OutputFile); err != nil {
		return err
	}

	auditSettings = settings
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	settings := auditSettings
	if settings == nil {
		settings = config.LoadSettings(viper.GetViper())
	}

	rows, err := reporter.ReadResultFile(appFs, settings.ResultsFile)
	if err != nil {
		return err
	}

	matching, err := config.CreateMatchingConfig(settings)
	if err != nil {
		return err
	}

	auditor, err := reconciler.NewAuditor(appFs, config.CreateReceiptLoaderConfig(settings), matching)
	if err != nil {
		return err
	}

	report, err := auditor.Audit(ctx, rows, settings.ReceiptsDir)
	if err != nil {
		return err
	}

	reportConfig, err := config.CreateReportConfig(settings.OutputFormat)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, appFs, nil)
	if err != nil {
		return err
	}

	err = withOutput(cmd, settings.OutputFile, func(w io.Writer) error {
		return generator.GenerateAuditReportSafely(report, w)
	})
	if err != nil {
		return err
	}

	if settings.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Audited %d rows, %d clean, %d discrepancies.\n",
			report.RowsAudited, report.CleanRows, len(report.Discrepancies))
	}

	if viper.GetBool("fail-on-discrepancy") {
		if serious := report.BySeverity[reconciler.SeverityHigh] + report.BySeverity[reconciler.SeverityMedium]; serious > 0 {
			return errors.ReconciliationError(errors.CodeProcessingError, "audit",
				fmt.Errorf("%d high or medium severity discrepancies found", serious)).
				WithSuggestion("Re-run 'reconciler reconcile' or review the listed rows")
		}
	}

	return nil
}
