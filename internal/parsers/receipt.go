package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/afero"
)

// ReceiptLoader reads receipt JSON documents
type ReceiptLoader struct {
	fs     afero.Fs
	config *ReceiptLoaderConfig
	logger logger.Logger
}

// ReceiptLoadStats counts what happened while loading a receipt folder
type ReceiptLoadStats struct {
	FilesFound int
	Loaded     int
	Skips      *errors.SkipCollector
}

// Skipped returns the number of receipts left out of matching
func (s *ReceiptLoadStats) Skipped() int {
	return s.Skips.Total()
}

func (s *ReceiptLoadStats) String() string {
	return fmt.Sprintf("Found %d receipt files, %d loaded, %d skipped (%s)",
		s.FilesFound, s.Loaded, s.Skipped(), s.Skips.Summary())
}

// NewReceiptLoader creates a ReceiptLoader reading from fs
func NewReceiptLoader(fs afero.Fs, config *ReceiptLoaderConfig) (*ReceiptLoader, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if config == nil {
		config = DefaultReceiptLoaderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "receipt_loader", config.FileExtension, err)
	}

	return &ReceiptLoader{
		fs:     fs,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("receipt_loader"),
	}, nil
}

// receiptDocument mirrors the JSON written by the extraction step. The
// amount is kept raw so a bad value is reported as invalid_amount rather
// than making the whole document malformed.
type receiptDocument struct {
	Amount   json.RawMessage       `json:"amount"`
	Date     models.FlexibleString `json:"date"`
	Vendor   models.FlexibleString `json:"vendor"`
	Currency models.FlexibleString `json:"currency"`
}

// LoadReceipt reads one receipt. A document that cannot be used for
// matching is returned with a skip reason; only I/O failures are errors.
func (rl *ReceiptLoader) LoadReceipt(path string) (*models.ReceiptRecord, error) {
	data, err := afero.ReadFile(rl.fs, path)
	if err != nil {
		return nil, classifyFileError(path, err)
	}

	return rl.decodeReceipt(path, data), nil
}

// DecodeReceipt parses receipt JSON held in memory
func (rl *ReceiptLoader) DecodeReceipt(path string, data []byte) *models.ReceiptRecord {
	return rl.decodeReceipt(path, data)
}

func (rl *ReceiptLoader) decodeReceipt(path string, data []byte) *models.ReceiptRecord {
	receipt := &models.ReceiptRecord{
		ID:         BaseName(path),
		SourcePath: path,
	}

	var doc receiptDocument
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		receipt.Skip = models.SkipMalformedJSON
		return receipt
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		receipt.Skip = models.SkipMalformedJSON
		return receipt
	}

	receipt.Vendor = strings.TrimSpace(string(doc.Vendor))
	receipt.Currency = strings.TrimSpace(string(doc.Currency))
	receipt.Address = rl.address(fields)

	var amount models.FlexibleAmount
	if len(doc.Amount) == 0 {
		receipt.Skip = models.SkipMissingAmount
		return receipt
	}
	if err := json.Unmarshal(doc.Amount, &amount); err != nil {
		receipt.Skip = models.SkipInvalidAmount
		return receipt
	}
	if !amount.Set {
		receipt.Skip = models.SkipMissingAmount
		return receipt
	}
	receipt.Amount = amount.Value

	rawDate := strings.TrimSpace(string(doc.Date))
	if rawDate == "" {
		receipt.Skip = models.SkipMissingDate
		return receipt
	}
	date, err := models.ParseReceiptDate(rawDate)
	if err != nil {
		receipt.Skip = models.SkipInvalidDate
		return receipt
	}
	receipt.Date = date

	return receipt
}

// address returns the first non-empty configured address field
func (rl *ReceiptLoader) address(fields map[string]json.RawMessage) string {
	for _, name := range rl.config.AddressFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var value models.FlexibleString
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		if s := strings.TrimSpace(string(value)); s != "" {
			return s
		}
	}
	return ""
}

// skipField names the field behind a skip reason
func skipField(reason models.SkipReason) string {
	switch reason {
	case models.SkipMissingAmount, models.SkipInvalidAmount:
		return "amount"
	case models.SkipMissingDate, models.SkipInvalidDate:
		return "date"
	default:
		return ""
	}
}

// LoadReceiptFolder loads every receipt document in dir and returns the
// matchable ones in file name order. An empty folder is not an error.
func (rl *ReceiptLoader) LoadReceiptFolder(ctx context.Context, dir string) ([]*models.ReceiptRecord, *ReceiptLoadStats, error) {
	files, err := ListFiles(rl.fs, dir, rl.config.FileExtension)
	if err != nil {
		return nil, nil, err
	}

	stats := &ReceiptLoadStats{
		FilesFound: len(files),
		Skips:      errors.NewSkipCollector(maxSkipNotices),
	}
	if len(files) == 0 {
		rl.logger.WithField("directory", dir).Warn("No receipt files found")
		return nil, stats, nil
	}

	slots := make([]*models.ReceiptRecord, len(files))
	slotErrs := make([]error, len(files))
	semaphore := make(chan struct{}, rl.config.MaxConcurrentFiles)
	var wg sync.WaitGroup

	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			slots[i], slotErrs[i] = rl.LoadReceipt(path)
		}(i, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, errors.ReconciliationError(errors.CodeCancelled, "load_receipts", err)
	}

	var receipts []*models.ReceiptRecord
	for i, receipt := range slots {
		if slotErrs[i] != nil {
			return nil, nil, slotErrs[i]
		}
		if !receipt.Matchable() {
			stats.Skips.Add(errors.SkipNotice{
				File:   receipt.SourcePath,
				Field:  skipField(receipt.Skip),
				Reason: string(receipt.Skip),
			})
			continue
		}
		receipts = append(receipts, receipt)
	}
	stats.Loaded = len(receipts)

	rl.logger.WithFields(logger.Fields{
		"directory": dir,
		"loaded":    stats.Loaded,
		"skipped":   stats.Skipped(),
	}).Info("Loaded receipt files")

	return receipts, stats, nil
}
