package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/locator"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
)

// ReconciliationService runs the complete reconciliation pipeline:
// statements and receipts are loaded, normalized, matched, and the
// matched rows are optionally annotated with receipt images.
type ReconciliationService struct {
	fs              afero.Fs
	statementParser *parsers.StatementParser
	receiptLoader   *parsers.ReceiptLoader
	locator         *locator.Locator
	config          *Config
	logger          logger.Logger
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Statements    *parsers.StatementParserConfig `json:"statements" yaml:"statements"`
	Receipts      *parsers.ReceiptLoaderConfig   `json:"receipts" yaml:"receipts"`
	Matching      *matcher.MatchingConfig        `json:"matching" yaml:"matching"`
	Preprocessing *PreprocessingConfig           `json:"preprocessing" yaml:"preprocessing"`

	// ImageExtensions is the probing order used by the receipt locator
	ImageExtensions []string `json:"image_extensions" yaml:"image_extensions"`

	// IncludeUnmatched keeps unmatched transactions in the result
	IncludeUnmatched bool `json:"include_unmatched" yaml:"include_unmatched"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Statements:       parsers.DefaultStatementParserConfig(),
		Receipts:         parsers.DefaultReceiptLoaderConfig(),
		Matching:         matcher.DefaultMatchingConfig(),
		Preprocessing:    DefaultPreprocessingConfig(),
		ImageExtensions:  append([]string(nil), locator.DefaultExtensions...),
		IncludeUnmatched: true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Statements == nil {
		return fmt.Errorf("statement parser configuration is required")
	}
	if c.Receipts == nil {
		return fmt.Errorf("receipt loader configuration is required")
	}
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if c.Preprocessing == nil {
		return fmt.Errorf("preprocessing configuration is required")
	}

	if err := c.Statements.Validate(); err != nil {
		return fmt.Errorf("statements: %w", err)
	}
	if err := c.Receipts.Validate(); err != nil {
		return fmt.Errorf("receipts: %w", err)
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if err := c.Preprocessing.Validate(); err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}

	return nil
}

// ReconciliationRequest represents a request for reconciliation
type ReconciliationRequest struct {
	StatementsDir string     `json:"statements_dir"`
	ReceiptsDir   string     `json:"receipts_dir"`
	ImagesDir     string     `json:"images_dir,omitempty"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if strings.TrimSpace(r.StatementsDir) == "" {
		return fmt.Errorf("statements directory is required")
	}

	if strings.TrimSpace(r.ReceiptsDir) == "" {
		return fmt.Errorf("receipts directory is required")
	}

	if r.StartDate != nil && r.EndDate != nil && r.StartDate.After(*r.EndDate) {
		return fmt.Errorf("start date must be before end date")
	}

	return nil
}

// ReconciliationResult contains the complete results of reconciliation
type ReconciliationResult struct {
	RunID   string         `json:"run_id"`
	Summary *ResultSummary `json:"summary"`

	// Matches holds the result table rows in transaction order
	Matches               []*models.MatchResult       `json:"matches"`
	UnmatchedTransactions []*models.TransactionRecord `json:"unmatched_transactions,omitempty"`

	// Samples of the records left out of matching
	SkippedTransactions []errors.SkipNotice `json:"skipped_transactions,omitempty"`
	SkippedReceipts     []errors.SkipNotice `json:"skipped_receipts,omitempty"`

	// SharedReceipts maps receipt ids backing more than one transaction to
	// the number of rows they back
	SharedReceipts map[string]int `json:"shared_receipts,omitempty"`

	StatementFiles  []string               `json:"statement_files"`
	ProcessingStats *ProcessingStats       `json:"processing_stats,omitempty"`
	ProcessedAt     time.Time              `json:"processed_at"`
	Request         *ReconciliationRequest `json:"request,omitempty"`
}

// HasMatches reports whether at least one transaction was matched
func (r *ReconciliationResult) HasMatches() bool {
	return len(r.Matches) > 0
}

// ResultSummary provides a high-level overview of reconciliation results
type ResultSummary struct {
	// Statement side
	StatementFiles         int `json:"statement_files"`
	TotalTransactions      int `json:"total_transactions"`
	SkippedTransactions    int `json:"skipped_transactions"`
	OutOfRangeTransactions int `json:"out_of_range_transactions"`

	// Receipt side
	ReceiptFiles    int `json:"receipt_files"`
	LoadedReceipts  int `json:"loaded_receipts"`
	SkippedReceipts int `json:"skipped_receipts"`

	// Matching
	MatchedTransactions   int `json:"matched_transactions"`
	UnmatchedTransactions int `json:"unmatched_transactions"`
	SharedReceipts        int `json:"shared_receipts"`
	ImagesResolved        int `json:"images_resolved"`

	MatchRate     float64         `json:"match_rate"`
	AverageScore  float64         `json:"average_score"`
	MatchedAmount decimal.Decimal `json:"matched_amount"`

	TransactionSkipReasons map[string]int `json:"transaction_skip_reasons,omitempty"`
	ReceiptSkipReasons     map[string]int `json:"receipt_skip_reasons,omitempty"`

	DateRange          *DateRange    `json:"date_range,omitempty"`
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// ProcessingStats contains detailed processing statistics
type ProcessingStats struct {
	ParsingTime         time.Duration `json:"parsing_time"`
	PreprocessingTime   time.Duration `json:"preprocessing_time"`
	MatchingTime        time.Duration `json:"matching_time"`
	AnnotationTime      time.Duration `json:"annotation_time"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`

	CandidatesScored  int     `json:"candidates_scored"`
	DuplicatesRemoved int     `json:"duplicates_removed"`
	FieldsNormalized  int     `json:"fields_normalized"`
	RecordsPerSecond  float64 `json:"records_per_second"`
}

// DateRange represents a date range filter. Either bound may be open.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// NewReconciliationService creates a new reconciliation service reading
// from fs. A nil fs reads the OS filesystem, a nil config selects
// DefaultConfig.
func NewReconciliationService(fs afero.Fs, config *Config) (*ReconciliationService, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciliation", nil, err)
	}

	statementParser, err := parsers.NewStatementParser(fs, config.Statements)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement parser: %w", err)
	}

	receiptLoader, err := parsers.NewReceiptLoader(fs, config.Receipts)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt loader: %w", err)
	}

	return &ReconciliationService{
		fs:              fs,
		statementParser: statementParser,
		receiptLoader:   receiptLoader,
		locator:         locator.New(fs, config.ImageExtensions...),
		config:          config,
		logger:          logger.GetGlobalLogger().WithComponent("reconciliation_service"),
	}, nil
}

// ProcessReconciliation performs the complete reconciliation process
func (rs *ReconciliationService) ProcessReconciliation(
	ctx context.Context,
	request *ReconciliationRequest,
) (*ReconciliationResult, error) {
	return rs.run(ctx, request, nil)
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}

// GetMatchingConfig returns a copy of the matching configuration
func (rs *ReconciliationService) GetMatchingConfig() *matcher.MatchingConfig {
	return rs.config.Matching.Clone()
}

// Locator returns the receipt image locator used for annotation
func (rs *ReconciliationService) Locator() *locator.Locator {
	return rs.locator
}

// ReceiptLoader returns the loader used for receipt documents
func (rs *ReconciliationService) ReceiptLoader() *parsers.ReceiptLoader {
	return rs.receiptLoader
}
