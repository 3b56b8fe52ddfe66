package cmd

import (
	"fmt"
	"io"
	"strings"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/locator"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// reconcileSettings holds the settings resolved by validateReconcileFlags
var reconcileSettings *config.Settings

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match bank statement transactions with receipts",
	Long: `Reconcile reads every CSV bank statement in the statements folder and every
JSON receipt in the receipts folder, then pairs each transaction with its
best receipt candidate.

Candidates must carry the same amount as the transaction (or a close one in
tolerance mode). They are scored by the similarity of the transaction
description to the receipt vendor and address, and by date proximity. A
receipt may back several transactions.

When an images folder is given, each matched receipt is resolved to its image
(.jpg, .jpeg, then .png by default).

Examples:
  # Basic reconciliation to stdout
  reconciler reconcile --statements-dir statements --receipts-dir receipts

  # Resolve receipt images and write the result table to a file
  reconciler reconcile -s statements -r receipts -i images -o results.csv

  # Tolerant amounts, French statement layout, a console report
  reconciler reconcile -s statements -r receipts --amount-mode tolerance \
    --statement-format french --output-format console

  # Restrict to March with a progress bar
  reconciler reconcile -s statements -r receipts \
    --start-date 2024-03-01 --end-date 2024-03-31 --progress`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()

	// Inputs
	flags.StringP("statements-dir", "s", "", "folder of CSV bank statements (required)")
	flags.StringP("receipts-dir", "r", "", "folder of JSON receipts (required)")
	flags.StringP("images-dir", "i", "", "folder of receipt images to resolve matches against")

	// Output
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")
	flags.StringP("output-format", "f", string(reporter.FormatCSV), "output format: csv, json, console")
	flags.String("statement-format", parsers.StandardStatementFormat.Name,
		fmt.Sprintf("statement CSV layout: %s", strings.Join(parsers.ListStatementFormats(), ", ")))

	// Matching
	flags.String("amount-mode", "exact", "amount filter: exact or tolerance")
	flags.Float64("amount-tolerance", 0.01, "maximum amount difference in tolerance mode")
	flags.Bool("absolute-amounts", false, "compare absolute amounts so debits match positive receipt totals")
	flags.IntP("workers", "w", 1, "number of matching workers")

	// Loading
	flags.Int("max-concurrent-files", parsers.StandardStatementFormat.MaxConcurrentFiles, "maximum files read concurrently")
	flags.StringSlice("image-extensions", locator.DefaultExtensions, "image extensions probed in order")

	// Run options
	flags.String("start-date", "", "only reconcile transactions on or after this date (YYYY-MM-DD)")
	flags.String("end-date", "", "only reconcile transactions on or before this date (YYYY-MM-DD)")
	flags.Bool("progress", false, "show a progress bar on stderr")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if err := bindCommandFlags(cmd); err != nil {
		return err
	}

	// Values come from viper so config files and the environment apply
	settings := config.LoadSettings(viper.GetViper())

	if settings.StatementsDir == "" {
		return errors.ValidationError(errors.CodeMissingField, "statements-dir", "", nil).
			WithSuggestion("Pass --statements-dir with the folder of CSV bank statements")
	}
	if settings.ReceiptsDir == "" {
		return errors.ValidationError(errors.CodeMissingField, "receipts-dir", "", nil).
			WithSuggestion("Pass --receipts-dir with the folder of JSON receipts")
	}

	if err := validateDirExists(settings.StatementsDir, "statements folder"); err != nil {
		return err
	}
	if err := validateDirExists(settings.ReceiptsDir, "receipts folder"); err != nil {
		return err
	}
	if settings.ImagesDir != "" {
		if err := validateDirExists(settings.ImagesDir, "images folder"); err != nil {
			return err
		}
	}

	if _, err := config.CreateReportConfig(settings.OutputFormat); err != nil {
		return err
	}
	if _, _, err := settings.DateRange(); err != nil {
		return err
	}
	if _, err := config.CreateReconcilerConfig(settings); err != nil {
		return err
	}

	if err := validateOutputDir(settings.OutputFile); err != nil {
		return err
	}

	reconcileSettings = settings
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	settings := reconcileSettings
	if settings == nil {
		settings = config.LoadSettings(viper.GetViper())
	}
	stderr := cmd.ErrOrStderr()
	log := logger.GetGlobalLogger().WithComponent("cli")

	if settings.Verbose {
		fmt.Fprintf(stderr, "Starting reconciliation...\n")
		fmt.Fprintf(stderr, "Statements folder: %s\n", settings.StatementsDir)
		fmt.Fprintf(stderr, "Receipts folder: %s\n", settings.ReceiptsDir)
		if settings.ImagesDir != "" {
			fmt.Fprintf(stderr, "Images folder: %s\n", settings.ImagesDir)
		}
		fmt.Fprintf(stderr, "Output format: %s\n", settings.OutputFormat)
		if settings.OutputFile != "" {
			fmt.Fprintf(stderr, "Output file: %s\n", settings.OutputFile)
		}
	}

	// Create configurations
	reconcilerConfig, err := config.CreateReconcilerConfig(settings)
	if err != nil {
		return err
	}
	reportConfig, err := config.CreateReportConfig(settings.OutputFormat)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(reconcilerConfig, reportConfig); err != nil {
		return err
	}

	startDate, endDate, err := settings.DateRange()
	if err != nil {
		return err
	}

	service, err := reconciler.NewReconciliationService(appFs, reconcilerConfig)
	if err != nil {
		return err
	}

	orchestrator, err := reconciler.NewReconciliationOrchestrator(service)
	if err != nil {
		return err
	}

	var bar *stageProgress
	if settings.Progress {
		bar = newStageProgress(stderr, len(reconciler.PipelineStages))
		orchestrator.AddProgressCallback(bar.update)
	}
	orchestrator.AddProgressCallback(func(progress *reconciler.ReconciliationProgress) {
		log.WithFields(logger.Fields{
			"step":      progress.CurrentStep,
			"completed": progress.CompletedSteps,
			"total":     progress.TotalSteps,
		}).Debug("Pipeline progress")
	})

	request := &reconciler.ReconciliationRequest{
		StatementsDir: settings.StatementsDir,
		ReceiptsDir:   settings.ReceiptsDir,
		ImagesDir:     settings.ImagesDir,
		StartDate:     startDate,
		EndDate:       endDate,
	}

	result, err := orchestrator.ProcessReconciliation(ctx, request)
	if err != nil {
		if bar != nil {
			bar.abort()
		}
		return err
	}

	if !result.HasMatches() {
		fmt.Fprintln(stderr, "No transaction matched a receipt")
	}

	// Generate report
	generator, err := reporter.NewSafeReportGenerator(reportConfig, appFs, nil)
	if err != nil {
		return err
	}

	err = withOutput(cmd, settings.OutputFile, func(w io.Writer) error {
		return generator.GenerateReportSafely(result, w)
	})
	if err != nil {
		return err
	}

	if settings.Verbose {
		printReconcileSummary(stderr, result)
	}

	return nil
}

func printReconcileSummary(w io.Writer, result *reconciler.ReconciliationResult) {
	summary := result.Summary

	fmt.Fprintf(w, "\nReconciliation completed successfully.\n")
	fmt.Fprintf(w, "Processed %d transactions from %d statement files and %d receipts.\n",
		summary.TotalTransactions, summary.StatementFiles, summary.LoadedReceipts)
	fmt.Fprintf(w, "Found %d matches, %d unmatched transactions.\n",
		summary.MatchedTransactions, summary.UnmatchedTransactions)
	if summary.SharedReceipts > 0 {
		fmt.Fprintf(w, "%d receipts back more than one transaction.\n", summary.SharedReceipts)
	}
	if skipped := summary.SkippedTransactions + summary.SkippedReceipts; skipped > 0 {
		fmt.Fprintf(w, "Skipped %d transactions and %d receipts.\n", summary.SkippedTransactions, summary.SkippedReceipts)
	}
	fmt.Fprintf(w, "Processing time: %v\n", summary.ProcessingDuration)
}
