package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/afero"
)

// DiscrepancyType represents the type of discrepancy
type DiscrepancyType string

const (
	DiscrepancyReceiptMissing    DiscrepancyType = "receipt_missing"
	DiscrepancyReceiptUnreadable DiscrepancyType = "receipt_unreadable"
	DiscrepancyFieldMismatch     DiscrepancyType = "field_mismatch"
	DiscrepancySharedReceipt     DiscrepancyType = "shared_receipt"
)

// Severity represents the severity level of a discrepancy
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityHigh:   3,
	SeverityMedium: 2,
	SeverityLow:    1,
	SeverityInfo:   0,
}

// fieldSeverity is the severity of a difference in each compared field
var fieldSeverity = map[string]Severity{
	"amount":   SeverityHigh,
	"date":     SeverityMedium,
	"currency": SeverityLow,
	"vendor":   SeverityLow,
}

// FieldDifference is one field whose value in the result row differs from
// the receipt document
type FieldDifference struct {
	Field   string `json:"field"`
	Result  string `json:"result"`
	Receipt string `json:"receipt"`
}

// Discrepancy represents a detected discrepancy between a result row and
// its receipt
type Discrepancy struct {
	SourceFile string            `json:"csv_file"`
	Index      int               `json:"index"`
	ReceiptID  string            `json:"json_file"`
	Type       DiscrepancyType   `json:"type"`
	Severity   Severity          `json:"severity"`
	Fields     []FieldDifference `json:"fields,omitempty"`
	Message    string            `json:"message"`
}

// AuditReport is the outcome of auditing a result table
type AuditReport struct {
	AuditedAt     time.Time        `json:"audited_at"`
	ReceiptsDir   string           `json:"receipts_dir"`
	RowsAudited   int              `json:"rows_audited"`
	CleanRows     int              `json:"clean_rows"`
	Discrepancies []*Discrepancy   `json:"discrepancies"`
	BySeverity    map[Severity]int `json:"by_severity"`
}

// HasDiscrepancies reports whether any discrepancy was found
func (r *AuditReport) HasDiscrepancies() bool {
	return len(r.Discrepancies) > 0
}

// Auditor compares result rows with the receipt documents they point to
type Auditor struct {
	loader    *parsers.ReceiptLoader
	extension string
	amounts   *matcher.MatchingConfig
	logger    logger.Logger
}

// NewAuditor creates an auditor reading receipts from fs. Amounts are
// compared under matching, the configuration of the run that wrote the
// table; nil compares them exactly.
func NewAuditor(fs afero.Fs, config *parsers.ReceiptLoaderConfig, matching *matcher.MatchingConfig) (*Auditor, error) {
	if config == nil {
		config = parsers.DefaultReceiptLoaderConfig()
	}
	if matching == nil {
		matching = matcher.DefaultMatchingConfig()
	}
	if err := matching.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", matching.String(), err)
	}

	loader, err := parsers.NewReceiptLoader(fs, config)
	if err != nil {
		return nil, err
	}

	return &Auditor{
		loader:    loader,
		extension: config.FileExtension,
		amounts:   matching.Clone(),
		logger:    logger.GetGlobalLogger().WithComponent("auditor"),
	}, nil
}

// Audit re-reads the receipt behind every row and reports rows whose
// date, amount, currency or vendor differ from it, rows whose receipt is
// gone, and receipts backing more than one row.
func (a *Auditor) Audit(ctx context.Context, results []*models.MatchResult, receiptsDir string) (*AuditReport, error) {
	report := &AuditReport{
		AuditedAt:   time.Now(),
		ReceiptsDir: receiptsDir,
		BySeverity:  make(map[Severity]int),
	}

	usage := make(map[string]int)
	for _, row := range results {
		if row != nil {
			usage[row.ReceiptID]++
		}
	}

	for _, row := range results {
		if row == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.ReconciliationError(errors.CodeCancelled, "audit", err)
		}
		report.RowsAudited++

		found := a.auditRow(row, receiptsDir)
		if usage[row.ReceiptID] > 1 {
			found = append(found, &Discrepancy{
				SourceFile: row.SourceFile,
				Index:      row.Index,
				ReceiptID:  row.ReceiptID,
				Type:       DiscrepancySharedReceipt,
				Severity:   SeverityInfo,
				Message:    fmt.Sprintf("receipt backs %d transactions", usage[row.ReceiptID]),
			})
		}

		if len(found) == 0 {
			report.CleanRows++
			continue
		}
		for _, d := range found {
			report.BySeverity[d.Severity]++
		}
		report.Discrepancies = append(report.Discrepancies, found...)
	}

	a.logger.WithFields(logger.Fields{
		"rows":          report.RowsAudited,
		"clean":         report.CleanRows,
		"discrepancies": len(report.Discrepancies),
	}).Info("Audit completed")

	return report, nil
}

func (a *Auditor) auditRow(row *models.MatchResult, receiptsDir string) []*Discrepancy {
	base := Discrepancy{
		SourceFile: row.SourceFile,
		Index:      row.Index,
		ReceiptID:  row.ReceiptID,
	}

	path := filepath.Join(receiptsDir, row.ReceiptID+a.extension)
	receipt, err := a.loader.LoadReceipt(path)
	if err != nil {
		d := base
		d.Severity = SeverityHigh
		if reconcilerErr, ok := errors.AsReconcilerError(err); ok && reconcilerErr.Code == errors.CodeFileNotFound {
			d.Type = DiscrepancyReceiptMissing
			d.Message = "receipt file not found"
		} else {
			d.Type = DiscrepancyReceiptUnreadable
			d.Message = err.Error()
		}
		return []*Discrepancy{&d}
	}

	if receipt.Skip == models.SkipMalformedJSON {
		d := base
		d.Type = DiscrepancyReceiptUnreadable
		d.Severity = SeverityHigh
		d.Message = "receipt document is not a JSON object"
		return []*Discrepancy{&d}
	}

	fields := a.compareFields(row, receipt)
	if len(fields) == 0 {
		return nil
	}

	d := base
	d.Type = DiscrepancyFieldMismatch
	d.Fields = fields
	d.Severity = SeverityInfo
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
		if severity := fieldSeverity[f.Field]; severityRank[severity] > severityRank[d.Severity] {
			d.Severity = severity
		}
	}
	d.Message = "fields differ: " + strings.Join(names, ", ")
	return []*Discrepancy{&d}
}

// compareFields lists the differences between a row and its receipt in the
// order date, amount, currency, vendor. A receipt field that no longer
// parses is reported with its skip reason as the receipt value.
func (a *Auditor) compareFields(row *models.MatchResult, receipt *models.ReceiptRecord) []FieldDifference {
	var fields []FieldDifference

	amountSkipped := receipt.Skip == models.SkipMissingAmount || receipt.Skip == models.SkipInvalidAmount

	resultDate := row.Date.Format(models.DateLayout)
	switch {
	case receipt.Skip == models.SkipMissingDate || receipt.Skip == models.SkipInvalidDate:
		fields = append(fields, FieldDifference{"date", resultDate, string(receipt.Skip)})
	case amountSkipped:
		// the date is not read once the amount fails
	default:
		if models.DaysBetween(row.Date, receipt.Date) != 0 {
			fields = append(fields, FieldDifference{"date", resultDate, receipt.Date.Format(models.DateLayout)})
		}
	}

	switch {
	case amountSkipped:
		fields = append(fields, FieldDifference{"amount", row.Amount.String(), string(receipt.Skip)})
	default:
		if !a.amounts.AmountsMatch(row.Amount, receipt.Amount) {
			fields = append(fields, FieldDifference{"amount", row.Amount.String(), receipt.Amount.String()})
		}
	}

	if !sameText(row.Currency, receipt.Currency) {
		fields = append(fields, FieldDifference{"currency", row.Currency, receipt.Currency})
	}

	if !sameText(row.Vendor, receipt.Vendor) {
		fields = append(fields, FieldDifference{"vendor", row.Vendor, receipt.Vendor})
	}

	return fields
}

// sameText compares case-insensitively, ignoring surrounding and repeated
// whitespace
func sameText(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
