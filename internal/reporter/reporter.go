// Package reporter renders reconciliation output.
//
// The result table (CSV) is the primary artifact of a reconciliation run and
// the input of the search and audit commands. Besides the table the package
// renders full reconciliation results, image search results and audit
// reports in three formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: the result table, or one line per audit finding
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:        reporter.FormatCSV,
//		TableMaxWidth: 120,
//	})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/pkg/errors"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" yaml:"format"`

	// Detail level options
	IncludeUnmatchedTransactions bool `json:"include_unmatched_transactions" yaml:"include_unmatched_transactions"`
	IncludeSkipped               bool `json:"include_skipped" yaml:"include_skipped"`
	IncludeProcessingStats       bool `json:"include_processing_stats" yaml:"include_processing_stats"`

	// Console formatting options
	MaxConsoleRows int `json:"max_console_rows" yaml:"max_console_rows"`
	TableMaxWidth  int `json:"table_max_width" yaml:"table_max_width"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                       FormatCSV,
		IncludeUnmatchedTransactions: true,
		IncludeSkipped:               true,
		IncludeProcessingStats:       true,
		MaxConsoleRows:               10,
		TableMaxWidth:                120,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxConsoleRows < 0 {
		return fmt.Errorf("max console rows cannot be negative, got %d", c.MaxConsoleRows)
	}

	return nil
}

// ReportGenerator generates reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport generates a report from reconciliation results and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return WriteResultTable(writer, result.Matches)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateSearchReport writes the rows whose receipt image was found
func (rg *ReportGenerator) GenerateSearchReport(rows []*models.MatchResult, writer io.Writer) error {
	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "RECEIPT IMAGE SEARCH\n")
		fmt.Fprintf(writer, "Images Found: %d\n\n", len(rows))
		rg.printMatchList(rows, writer, true)
		return nil
	case FormatJSON:
		if rows == nil {
			rows = []*models.MatchResult{}
		}
		return encodeJSON(writer, map[string]interface{}{
			"count": len(rows),
			"rows":  rows,
		})
	case FormatCSV:
		return WriteResultTable(writer, rows)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateAuditReport writes the findings of an audit
func (rg *ReportGenerator) GenerateAuditReport(report *reconciler.AuditReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("audit report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateAuditConsoleReport(report, writer)
	case FormatJSON:
		return encodeJSON(writer, report)
	case FormatCSV:
		return rg.generateAuditCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run ID: %s\n", result.RunID)
	fmt.Fprintf(writer, "Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	if result.Summary != nil {
		fmt.Fprintf(writer, "Processing Duration: %v\n", result.Summary.ProcessingDuration)
	}
	fmt.Fprintf(writer, "\n")

	if result.Summary != nil {
		fmt.Fprintf(writer, "=== SUMMARY ===\n")
		rg.printSummaryTable(result.Summary, writer)
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "=== MATCHES ===\n")
	if len(result.Matches) == 0 {
		fmt.Fprintf(writer, "No transactions matched a receipt\n")
	} else {
		rg.printMatchList(result.Matches, writer, false)
	}
	fmt.Fprintf(writer, "\n")

	if len(result.SharedReceipts) > 0 {
		fmt.Fprintf(writer, "=== SHARED RECEIPTS ===\n")
		rg.printSharedReceipts(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatchedTransactions && len(result.UnmatchedTransactions) > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED TRANSACTIONS ===\n")
		rg.printUnmatchedTransactions(result.UnmatchedTransactions, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeSkipped && result.Summary != nil &&
		(len(result.Summary.TransactionSkipReasons) > 0 || len(result.Summary.ReceiptSkipReasons) > 0) {
		fmt.Fprintf(writer, "=== SKIPPED RECORDS ===\n")
		rg.printSkipReasons("Transactions", result.Summary.TransactionSkipReasons, writer)
		rg.printSkipReasons("Receipts", result.Summary.ReceiptSkipReasons, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		rg.printProcessingStats(result.ProcessingStats, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	return encodeJSON(writer, rg.filterResultForOutput(result))
}

func (rg *ReportGenerator) generateAuditConsoleReport(report *reconciler.AuditReport, writer io.Writer) error {
	fmt.Fprintf(writer, "AUDIT REPORT\n")
	fmt.Fprintf(writer, "Audited: %s\n", report.AuditedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Receipts Directory: %s\n\n", report.ReceiptsDir)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Rows Audited:  %d\n", report.RowsAudited)
	fmt.Fprintf(writer, "Clean Rows:    %d (%.1f%%)\n",
		report.CleanRows, rg.calculatePercentage(report.CleanRows, report.RowsAudited))
	fmt.Fprintf(writer, "Discrepancies: %d\n\n", len(report.Discrepancies))

	if !report.HasDiscrepancies() {
		fmt.Fprintf(writer, "No discrepancies found\n")
		return nil
	}

	fmt.Fprintf(writer, "=== DISCREPANCIES ===\n")
	rg.printDiscrepancies(report.Discrepancies, writer)
	return nil
}

// AuditTableColumns is the column order of the audit CSV
var AuditTableColumns = []string{
	"csv_file",
	"index",
	"json_file",
	"type",
	"severity",
	"field",
	"result_value",
	"receipt_value",
	"message",
}

// generateAuditCSVReport writes one line per differing field, or one line
// for findings without field details
func (rg *ReportGenerator) generateAuditCSVReport(report *reconciler.AuditReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)

	if err := csvWriter.Write(AuditTableColumns); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, disc := range report.Discrepancies {
		base := []string{
			disc.SourceFile,
			strconv.Itoa(disc.Index),
			disc.ReceiptID,
			string(disc.Type),
			string(disc.Severity),
		}

		fields := disc.Fields
		if len(fields) == 0 {
			fields = []reconciler.FieldDifference{{}}
		}
		for _, field := range fields {
			record := append(append([]string(nil), base...), field.Field, field.Result, field.Receipt, disc.Message)
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write audit record %s#%d: %w", disc.SourceFile, disc.Index, err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Transactions:\n")
	fmt.Fprintf(writer, "  Files:        %d\n", summary.StatementFiles)
	fmt.Fprintf(writer, "  Total:        %d\n", summary.TotalTransactions)
	fmt.Fprintf(writer, "  Skipped:      %d\n", summary.SkippedTransactions)
	if summary.OutOfRangeTransactions > 0 {
		fmt.Fprintf(writer, "  Out of Range: %d\n", summary.OutOfRangeTransactions)
	}
	fmt.Fprintf(writer, "  Matched:      %d (%.1f%%)\n", summary.MatchedTransactions, summary.MatchRate*100)
	fmt.Fprintf(writer, "  Unmatched:    %d\n", summary.UnmatchedTransactions)

	fmt.Fprintf(writer, "\nReceipts:\n")
	fmt.Fprintf(writer, "  Files:        %d\n", summary.ReceiptFiles)
	fmt.Fprintf(writer, "  Loaded:       %d\n", summary.LoadedReceipts)
	fmt.Fprintf(writer, "  Skipped:      %d\n", summary.SkippedReceipts)
	fmt.Fprintf(writer, "  Shared:       %d\n", summary.SharedReceipts)
	fmt.Fprintf(writer, "  With Images:  %d\n", summary.ImagesResolved)

	fmt.Fprintf(writer, "\nMatched Amount: %s\n", summary.MatchedAmount.StringFixed(2))
	fmt.Fprintf(writer, "Average Score:  %.3f\n", summary.AverageScore)

	if summary.DateRange != nil {
		fmt.Fprintf(writer, "Date Range:     %s to %s\n",
			formatOptionalDate(summary.DateRange.Start), formatOptionalDate(summary.DateRange.End))
	}
}

func (rg *ReportGenerator) printMatchList(rows []*models.MatchResult, writer io.Writer, withImages bool) {
	vendorWidth := rg.vendorWidth()
	for i, row := range rows {
		if rg.limitReached(i, len(rows), writer) {
			break
		}

		fmt.Fprintf(writer, "  %d. %s#%d -> %s, Date: %s, Amount: %s %s, Vendor: %s, Score: %.3f\n",
			i+1,
			row.SourceFile,
			row.Index,
			row.ReceiptID,
			row.Date.Format(models.DateLayout),
			row.Amount.StringFixed(2),
			row.Currency,
			truncate(row.Vendor, vendorWidth),
			row.CombinedScore)
		if withImages && row.ImagePath != "" {
			fmt.Fprintf(writer, "     Image: %s\n", row.ImagePath)
		}
	}
}

func (rg *ReportGenerator) printSharedReceipts(result *reconciler.ReconciliationResult, writer io.Writer) {
	ids := result.SharedReceiptIDs()
	fmt.Fprintf(writer, "Receipts Backing Several Transactions: %d\n\n", len(ids))
	for i, id := range ids {
		if rg.limitReached(i, len(ids), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s: %d transactions\n", i+1, id, result.SharedReceipts[id])
	}
}

func (rg *ReportGenerator) printUnmatchedTransactions(transactions []*models.TransactionRecord, writer io.Writer) {
	fmt.Fprintf(writer, "Total Unmatched Transactions: %d\n\n", len(transactions))

	vendorWidth := rg.vendorWidth()
	for i, tx := range transactions {
		if rg.limitReached(i, len(transactions), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s#%d, Date: %s, Amount: %s %s, Vendor: %s\n",
			i+1,
			tx.SourceFile,
			tx.Index,
			tx.Date.Format(models.DateLayout),
			tx.Amount.StringFixed(2),
			tx.Currency,
			truncate(tx.Vendor, vendorWidth))
	}
}

func (rg *ReportGenerator) printSkipReasons(label string, reasons map[string]int, writer io.Writer) {
	if len(reasons) == 0 {
		return
	}

	keys := make([]string, 0, len(reasons))
	for reason := range reasons {
		keys = append(keys, reason)
	}
	sort.Strings(keys)

	fmt.Fprintf(writer, "%s:\n", label)
	for _, reason := range keys {
		fmt.Fprintf(writer, "  %-20s %d\n", reason+":", reasons[reason])
	}
}

func (rg *ReportGenerator) printDiscrepancies(discrepancies []*reconciler.Discrepancy, writer io.Writer) {
	severityGroups := make(map[reconciler.Severity][]*reconciler.Discrepancy)
	for _, disc := range discrepancies {
		severityGroups[disc.Severity] = append(severityGroups[disc.Severity], disc)
	}

	severities := []reconciler.Severity{
		reconciler.SeverityHigh,
		reconciler.SeverityMedium,
		reconciler.SeverityLow,
		reconciler.SeverityInfo,
	}

	for _, severity := range severities {
		discs := severityGroups[severity]
		if len(discs) == 0 {
			continue
		}

		fmt.Fprintf(writer, "%s Severity (%d):\n", strings.ToUpper(string(severity)), len(discs))
		for _, disc := range discs {
			fmt.Fprintf(writer, "  - %s#%d -> %s: %s\n", disc.SourceFile, disc.Index, disc.ReceiptID, disc.Message)
			for _, field := range disc.Fields {
				fmt.Fprintf(writer, "      %s: %q != %q\n", field.Field, field.Result, field.Receipt)
			}
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printProcessingStats(stats *reconciler.ProcessingStats, writer io.Writer) {
	fmt.Fprintf(writer, "Candidates Scored:    %d\n", stats.CandidatesScored)
	fmt.Fprintf(writer, "Duplicates Removed:   %d\n", stats.DuplicatesRemoved)
	fmt.Fprintf(writer, "Fields Normalized:    %d\n", stats.FieldsNormalized)
	fmt.Fprintf(writer, "Records/Second:       %.2f\n", stats.RecordsPerSecond)
	fmt.Fprintf(writer, "Total Processing:     %v\n", stats.TotalProcessingTime)
	fmt.Fprintf(writer, "Parsing Time:         %v\n", stats.ParsingTime)
	fmt.Fprintf(writer, "Preprocessing Time:   %v\n", stats.PreprocessingTime)
	fmt.Fprintf(writer, "Matching Time:        %v\n", stats.MatchingTime)
	if stats.AnnotationTime > 0 {
		fmt.Fprintf(writer, "Annotation Time:      %v\n", stats.AnnotationTime)
	}
}

// limitReached prints the overflow line once MaxConsoleRows rows were
// written. Zero disables the limit.
func (rg *ReportGenerator) limitReached(i, total int, writer io.Writer) bool {
	limit := rg.config.MaxConsoleRows
	if limit == 0 || i < limit {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
	return true
}

func (rg *ReportGenerator) vendorWidth() int {
	return rg.config.TableMaxWidth / 4
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.ReconciliationResult) map[string]interface{} {
	matches := result.Matches
	if matches == nil {
		matches = []*models.MatchResult{}
	}

	output := map[string]interface{}{
		"run_id":          result.RunID,
		"summary":         result.Summary,
		"processed_at":    result.ProcessedAt,
		"statement_files": result.StatementFiles,
		"matches":         matches,
	}

	if len(result.SharedReceipts) > 0 {
		output["shared_receipts"] = result.SharedReceipts
	}

	if rg.config.IncludeUnmatchedTransactions && result.UnmatchedTransactions != nil {
		output["unmatched_transactions"] = result.UnmatchedTransactions
	}

	if rg.config.IncludeSkipped {
		if len(result.SkippedTransactions) > 0 {
			output["skipped_transactions"] = result.SkippedTransactions
		}
		if len(result.SkippedReceipts) > 0 {
			output["skipped_receipts"] = result.SkippedReceipts
		}
	}

	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		output["processing_stats"] = result.ProcessingStats
	}

	if result.Request != nil {
		output["request"] = result.Request
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if config == nil {
		return errors.ValidationError(errors.CodeMissingField, "report_config", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func encodeJSON(writer io.Writer, value interface{}) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return t.Format(models.DateLayout)
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if width <= 3 || len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
