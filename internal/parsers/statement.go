package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/afero"
)

// StatementParser parses bank statement CSV files
type StatementParser struct {
	*BaseParser
	config *StatementParserConfig
}

// StatementSet is the content of a statement folder
type StatementSet struct {
	// Files lists the parsed files in sorted order
	Files []string

	// Transactions holds every data row, grouped by file in Files order.
	// Rows that failed to parse are present with a skip reason.
	Transactions []*models.TransactionRecord

	Stats *ParseStats
}

// Matchable returns the transactions without a skip reason
func (s *StatementSet) Matchable() []*models.TransactionRecord {
	var out []*models.TransactionRecord
	for _, tx := range s.Transactions {
		if tx.Matchable() {
			out = append(out, tx)
		}
	}
	return out
}

// NewStatementParser creates a StatementParser reading from fs
func NewStatementParser(fs afero.Fs, config *StatementParserConfig) (*StatementParser, error) {
	if config == nil {
		config = DefaultStatementParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "statement_parser", config.Name, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &StatementParser{
		BaseParser: NewBaseParser(fs, parseConfig),
		config:     config,
	}, nil
}

// ParseStatements parses one statement file
func (sp *StatementParser) ParseStatements(filePath string) ([]*models.TransactionRecord, *ParseStats, error) {
	return sp.ParseStatementsWithContext(context.Background(), filePath)
}

// ParseStatementsWithContext parses one statement file with cancellation
// support. Every non-empty data row yields a record whose Index is its
// 0-based position among the data rows.
func (sp *StatementParser) ParseStatementsWithContext(ctx context.Context, filePath string) ([]*models.TransactionRecord, *ParseStats, error) {
	stats := NewParseStats()
	records, err := sp.parseFile(ctx, filePath, stats)
	return records, stats, err
}

func (sp *StatementParser) parseFile(ctx context.Context, filePath string, stats *ParseStats) ([]*models.TransactionRecord, error) {
	log := sp.logger.WithComponent("statement_parser").WithField("file_path", filePath)

	file, reader, err := sp.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	required := [][]string{sp.config.DateColumns, sp.config.AmountColumns}
	if err := sp.ReadHeaders(reader, parseCtx, required); err != nil {
		return nil, err
	}

	columns := statementColumns{
		date:     parseCtx.ResolveColumn(sp.config.DateColumns...),
		amount:   parseCtx.ResolveColumn(sp.config.AmountColumns...),
		currency: parseCtx.ResolveColumn(sp.config.CurrencyColumns...),
		vendor:   parseCtx.ResolveColumn(sp.config.VendorColumns...),
	}

	var records []*models.TransactionRecord
	for {
		record, err := sp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}

		tx := &models.TransactionRecord{
			SourceFile: filePath,
			Index:      parseCtx.DataRow,
		}
		parseCtx.DataRow++
		stats.RecordsParsed++

		if err != nil {
			if _, isCSV := err.(*csv.ParseError); !isCSV {
				return nil, err
			}
			tx.Skip = models.SkipMalformed
			stats.Skips.Add(errors.SkipNotice{
				File:   filePath,
				Line:   parseCtx.LineNumber,
				Reason: string(tx.Skip),
				Value:  err.Error(),
				Field:  "row",
			})
			records = append(records, tx)
			continue
		}

		field, value := columns.fill(tx, record)
		if !tx.Matchable() {
			stats.Skips.Add(errors.SkipNotice{
				File:   filePath,
				Line:   parseCtx.LineNumber,
				Field:  field,
				Value:  value,
				Reason: string(tx.Skip),
			})
		} else {
			stats.RecordsValid++
		}
		records = append(records, tx)
	}

	stats.FilesParsed = 1
	stats.TotalLines = parseCtx.LineNumber

	log.WithFields(logger.Fields{
		"records": stats.RecordsParsed,
		"valid":   stats.RecordsValid,
	}).Debug("Parsed statement file")

	return records, nil
}

type statementColumns struct {
	date, amount, currency, vendor int
}

// fill parses the row into tx. Unparseable date or amount cells become a
// skip reason; the offending field and value are returned for reporting.
func (c statementColumns) fill(tx *models.TransactionRecord, record []string) (string, string) {
	tx.Currency = FieldAt(record, c.currency)
	tx.Vendor = FieldAt(record, c.vendor)

	rawDate := FieldAt(record, c.date)
	if rawDate == "" {
		tx.Skip = models.SkipMissingDate
		return "date", rawDate
	}
	date, err := models.ParseTimeWithFormats(rawDate)
	if err != nil {
		tx.Skip = models.SkipInvalidDate
		return "date", rawDate
	}
	tx.Date = models.CalendarDate(date)

	rawAmount := FieldAt(record, c.amount)
	if rawAmount == "" {
		tx.Skip = models.SkipMissingAmount
		return "amount", rawAmount
	}
	amount, err := models.ParseDecimalFromString(rawAmount)
	if err != nil {
		tx.Skip = models.SkipInvalidAmount
		return "amount", rawAmount
	}
	tx.Amount = amount

	return "", ""
}

type fileResult struct {
	records []*models.TransactionRecord
	stats   *ParseStats
	err     error
}

// LoadStatementFolder parses every statement file in dir. Files are parsed
// concurrently, bounded by MaxConcurrentFiles, and the records are returned
// grouped by file in name order. A folder without statement files, or a
// file that cannot be read or lacks the required columns, is an error.
func (sp *StatementParser) LoadStatementFolder(ctx context.Context, dir string) (*StatementSet, error) {
	files, err := ListFiles(sp.fs, dir, sp.config.FileExtension)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.FileError(errors.CodeNoInputFiles, dir, nil)
	}

	log := sp.logger.WithComponent("statement_parser")
	log.WithFields(logger.Fields{
		"directory": dir,
		"files":     len(files),
	}).Info("Loading statement files")

	set := &StatementSet{
		Files: files,
		Stats: NewParseStats(),
	}

	results := make([]fileResult, len(files))
	semaphore := make(chan struct{}, sp.config.MaxConcurrentFiles)
	var wg sync.WaitGroup

	for i, path := range files {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			stats := &ParseStats{Skips: set.Stats.Skips}
			records, err := sp.parseFile(ctx, path, stats)
			results[i] = fileResult{records: records, stats: stats, err: err}
		}(i, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.ReconciliationError(errors.CodeCancelled, "load_statements", err)
	}

	for i, result := range results {
		if result.err != nil {
			return nil, errors.WrapIfNeeded(result.err, errors.CategoryFile, errors.CodeLoadFailed,
				fmt.Sprintf("failed to load statement file %s", files[i]))
		}
		set.Transactions = append(set.Transactions, result.records...)
		set.Stats.merge(result.stats)
	}

	log.WithField("stats", set.Stats.String()).Info("Loaded statement files")
	return set, nil
}
