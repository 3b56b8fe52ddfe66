package reconciler

import (
	"fmt"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/models"
)

// DataPreprocessor normalizes loaded records before matching. It never
// modifies its input: every record it touches is copied first.
type DataPreprocessor struct {
	config *PreprocessingConfig
	stats  PreprocessingStats
}

// PreprocessingConfig contains configuration for data preprocessing
type PreprocessingConfig struct {
	// String normalization options
	TrimWhitespace     bool `json:"trim_whitespace" yaml:"trim_whitespace"`
	CollapseWhitespace bool `json:"collapse_whitespace" yaml:"collapse_whitespace"`
	NormalizeCurrency  bool `json:"normalize_currency" yaml:"normalize_currency"`

	// Date range filtering. Transactions outside the range are kept with
	// the out_of_date_range skip reason. Receipts are never filtered.
	StartDate *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// PreprocessingStats contains statistics about preprocessing operations
type PreprocessingStats struct {
	TransactionsProcessed int `json:"transactions_processed"`
	ReceiptsProcessed     int `json:"receipts_processed"`
	FieldsNormalized      int `json:"fields_normalized"`
	OutOfRange            int `json:"out_of_range"`
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:     true,
		CollapseWhitespace: true,
		NormalizeCurrency:  true,
	}
}

// Validate validates the configuration
func (c *PreprocessingConfig) Validate() error {
	if c.StartDate != nil && c.EndDate != nil && c.StartDate.After(*c.EndDate) {
		return fmt.Errorf("start date %s is after end date %s",
			c.StartDate.Format(models.DateLayout), c.EndDate.Format(models.DateLayout))
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *PreprocessingConfig) Clone() *PreprocessingConfig {
	clone := *c
	return &clone
}

// WithDateRange returns a copy of the configuration restricted to [start, end]
func (c *PreprocessingConfig) WithDateRange(start, end *time.Time) *PreprocessingConfig {
	clone := c.Clone()
	clone.StartDate = start
	clone.EndDate = end
	return clone
}

// NewDataPreprocessor creates a new data preprocessor
func NewDataPreprocessor(config *PreprocessingConfig) *DataPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}

	return &DataPreprocessor{
		config: config,
	}
}

// PreprocessTransactions returns normalized copies of transactions, in the
// same order. Rows that already carry a skip reason are copied unchanged.
func (dp *DataPreprocessor) PreprocessTransactions(transactions []*models.TransactionRecord) []*models.TransactionRecord {
	processed := make([]*models.TransactionRecord, 0, len(transactions))

	for _, tx := range transactions {
		if tx == nil {
			continue
		}
		dp.stats.TransactionsProcessed++

		copied := *tx
		if !copied.Matchable() {
			processed = append(processed, &copied)
			continue
		}

		copied.Vendor = dp.normalizeString(copied.Vendor)
		copied.Currency = dp.normalizeCurrency(copied.Currency)

		if !models.IsWithinDateRange(copied.Date, dp.config.StartDate, dp.config.EndDate) {
			copied.Skip = models.SkipOutOfRange
			dp.stats.OutOfRange++
		}

		processed = append(processed, &copied)
	}

	return processed
}

// PreprocessReceipts returns normalized copies of receipts, in the same order
func (dp *DataPreprocessor) PreprocessReceipts(receipts []*models.ReceiptRecord) []*models.ReceiptRecord {
	processed := make([]*models.ReceiptRecord, 0, len(receipts))

	for _, receipt := range receipts {
		if receipt == nil {
			continue
		}
		dp.stats.ReceiptsProcessed++

		copied := *receipt
		copied.Vendor = dp.normalizeString(copied.Vendor)
		copied.Address = dp.normalizeString(copied.Address)
		copied.Currency = dp.normalizeCurrency(copied.Currency)

		processed = append(processed, &copied)
	}

	return processed
}

// normalizeString applies string normalization rules
func (dp *DataPreprocessor) normalizeString(s string) string {
	result := s

	if dp.config.TrimWhitespace {
		result = strings.TrimSpace(result)
	}

	if dp.config.CollapseWhitespace {
		result = strings.Join(strings.Fields(result), " ")
	}

	if result != s {
		dp.stats.FieldsNormalized++
	}
	return result
}

func (dp *DataPreprocessor) normalizeCurrency(currency string) string {
	if !dp.config.NormalizeCurrency {
		return dp.normalizeString(currency)
	}

	normalized := strings.ToUpper(strings.TrimSpace(currency))
	if normalized != currency {
		dp.stats.FieldsNormalized++
	}
	return normalized
}

// GetStatistics returns preprocessing statistics accumulated so far
func (dp *DataPreprocessor) GetStatistics() PreprocessingStats {
	return dp.stats
}
