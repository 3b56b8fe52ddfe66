// Package parsers loads bank statements and receipt documents into the
// record types used by the matching engine.
//
// Statements are CSV files with one transaction per row. Receipts are JSON
// documents, one per file, produced by an upstream extraction step. Both
// loaders read through an afero.Fs so callers can point them at the OS,
// an in-memory tree, or a read-only layer.
//
// Rows and documents that cannot be parsed are never fatal: they are kept
// (statements) or dropped (receipts) with a models.SkipReason and counted in
// the load statistics. Only structural problems such as a missing folder,
// a folder with no input files, or a statement without the required columns
// are returned as errors.
//
// Example usage:
//
//	parser, err := parsers.NewStatementParser(fs, parsers.DefaultStatementParserConfig())
//	set, err := parser.LoadStatementFolder(ctx, "statements")
//
//	loader, err := parsers.NewReceiptLoader(fs, parsers.DefaultReceiptLoaderConfig())
//	receipts, stats, err := loader.LoadReceiptFolder(ctx, "receipts")
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/afero"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	ValidateEncoding bool

	// EncodingCheckLines bounds the UTF-8 check; 0 checks the whole file
	EncodingCheckLines int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:          true,
		Delimiter:          ',',
		TrimLeadingSpace:   true,
		SkipEmptyRows:      true,
		ValidateEncoding:   true,
		EncodingCheckLines: 100,
	}
}

// BaseParser provides the CSV plumbing shared by the statement parser
type BaseParser struct {
	fs     afero.Fs
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a BaseParser reading from fs
func NewBaseParser(fs afero.Fs, config *ParseConfig) *BaseParser {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"has_header":        config.HasHeader,
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
	}).Debug("Created base parser")

	return &BaseParser{
		fs:     fs,
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing of one file
type ParseContext struct {
	FilePath   string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int

	// DataRow counts non-empty data rows read so far
	DataRow int

	ctx context.Context
}

// NewParseContext creates a parsing context for filePath
func NewParseContext(ctx context.Context, filePath string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		FilePath:  filePath,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, case-insensitively,
// or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[strings.ToLower(strings.TrimSpace(name))]; exists {
		return index
	}
	return -1
}

// ResolveColumn returns the index of the first of names present in the
// header, or -1
func (pc *ParseContext) ResolveColumn(names ...string) int {
	for _, name := range names {
		if index := pc.GetColumnIndex(name); index != -1 {
			return index
		}
	}
	return -1
}

// OpenFile opens a CSV file and returns a configured csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (afero.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := bp.fs.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		return nil, nil, classifyFileError(filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	reader := csv.NewReader(file)
	bp.configureReader(reader)

	return file, reader, nil
}

func classifyFileError(path string, err error) *errors.ReconcilerError {
	switch {
	case os.IsNotExist(err):
		return errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return errors.FileError(errors.CodeDirectoryError, path, err)
	}
}

func (bp *BaseParser) configureReader(reader *csv.Reader) {
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
}

// validateEncoding checks that the file is UTF-8 text
func (bp *BaseParser) validateEncoding(file io.Reader, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
		if bp.config.EncodingCheckLines > 0 && lineNum >= bp.config.EncodingCheckLines {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	return nil
}

// ReadHeaders reads the header row. Each entry of required lists the
// accepted names for one column; a column none of whose names is present
// is reported as missing.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, required [][]string) error {
	if !bp.config.HasHeader {
		headers := make([]string, len(required))
		for i, names := range required {
			if len(names) > 0 {
				headers[i] = names[0]
			}
		}
		parseCtx.Headers = headers
		bp.buildHeaderMap(parseCtx)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ParseError(
				errors.CodeMissingColumn,
				parseCtx.FilePath,
				1,
				"headers",
				"",
				fmt.Errorf("file is empty"),
			).WithSuggestion("Ensure the statement contains a header row")
		}
		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.FilePath,
			1,
			"headers",
			"",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.Headers = cleanHeaders(headers)
	bp.buildHeaderMap(parseCtx)

	var missing []string
	for _, names := range required {
		if parseCtx.ResolveColumn(names...) == -1 {
			missing = append(missing, strings.Join(names, "|"))
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"file_path":         parseCtx.FilePath,
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")

		return errors.ParseError(
			errors.CodeMissingColumn,
			parseCtx.FilePath,
			parseCtx.LineNumber,
			strings.Join(missing, ", "),
			strings.Join(parseCtx.Headers, ","),
			fmt.Errorf("required columns not found"),
		).WithSuggestion(fmt.Sprintf("Add these columns to the header row: %s", strings.Join(missing, ", ")))
	}

	return nil
}

// cleanHeaders trims whitespace and a leading byte order mark
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, "\ufeff")
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, header := range parseCtx.Headers {
		key := strings.ToLower(header)
		if _, exists := parseCtx.HeaderMap[key]; !exists {
			parseCtx.HeaderMap[key] = i
		}
	}
}

// ReadRecord returns the next non-empty record. Malformed rows are returned
// as a *csv.ParseError so the caller can record them and continue.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.ReconciliationError(
				errors.CodeCancelled,
				"csv_parsing",
				parseCtx.ctx.Err(),
			).WithContext("file", parseCtx.FilePath)
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			parseCtx.LineNumber++
			bp.logger.WithError(err).WithField("line_number", parseCtx.LineNumber).Warn("Failed to read CSV record")
			return nil, err
		}

		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// FieldAt returns the trimmed value at index, or "" when the column is
// absent from the header or the row is short
func FieldAt(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about loading one or more statement files
type ParseStats struct {
	FilesParsed   int
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	Skips         *errors.SkipCollector
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{
		Skips: errors.NewSkipCollector(maxSkipNotices),
	}
}

const maxSkipNotices = 100

// RecordsSkipped returns the number of records that cannot be matched
func (ps *ParseStats) RecordsSkipped() int {
	return ps.RecordsParsed - ps.RecordsValid
}

// merge folds the counters of other into ps. Skip notices are not copied:
// files parsed for a folder share the folder's collector.
func (ps *ParseStats) merge(other *ParseStats) {
	ps.FilesParsed += other.FilesParsed
	ps.TotalLines += other.TotalLines
	ps.RecordsParsed += other.RecordsParsed
	ps.RecordsValid += other.RecordsValid
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d files, %d lines, %d records (%d valid, %d skipped)",
		ps.FilesParsed, ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.RecordsSkipped())
}

// GetSampleSkips returns up to maxSamples skip descriptions
func (ps *ParseStats) GetSampleSkips(maxSamples int) []string {
	notices := ps.Skips.Notices()
	if maxSamples > 0 && maxSamples < len(notices) {
		notices = notices[:maxSamples]
	}

	samples := make([]string, len(notices))
	for i, notice := range notices {
		samples[i] = notice.String()
	}
	return samples
}
