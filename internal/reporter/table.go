package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
)

// ResultTableColumns is the column order of the result table
var ResultTableColumns = []string{
	"csv_file",
	"json_file",
	"index",
	"combined_score",
	"vendor_similarity",
	"address_similarity",
	"date_difference",
	"date",
	"amount",
	"currency",
	"vendor",
}

// ImagePathColumn is appended to the result table when any row has an image
const ImagePathColumn = "image_path"

// requiredTableColumns must be present when reading a result table back
var requiredTableColumns = []string{"csv_file", "json_file", "index"}

// WriteResultTable writes rows as the result table CSV. The image_path
// column is only written when at least one row has an image.
func WriteResultTable(w io.Writer, rows []*models.MatchResult) error {
	withImages := false
	for _, row := range rows {
		if row.ImagePath != "" {
			withImages = true
			break
		}
	}

	headers := append([]string(nil), ResultTableColumns...)
	if withImages {
		headers = append(headers, ImagePathColumn)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write result table header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.SourceFile,
			row.ReceiptID,
			strconv.Itoa(row.Index),
			formatScore(row.CombinedScore),
			formatScore(row.VendorSimilarity),
			formatScore(row.AddressSimilarity),
			strconv.Itoa(row.DateDifference),
			row.Date.Format(models.DateLayout),
			row.Amount.String(),
			row.Currency,
			row.Vendor,
		}
		if withImages {
			record = append(record, row.ImagePath)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write result row %s#%d: %w", row.SourceFile, row.Index, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteResultFile writes the result table to path on fs
func WriteResultFile(fs afero.Fs, path string, rows []*models.MatchResult) error {
	file, err := fs.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}

	if err := WriteResultTable(file, rows); err != nil {
		file.Close()
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

// ReadResultTable parses a result table. Only csv_file, json_file and index
// are required; other known columns are read when present and unknown
// columns are ignored. name is used in error messages.
func ReadResultTable(r io.Reader, name string) ([]*models.MatchResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, errors.ParseError(errors.CodeMissingColumn, name, 1, strings.Join(requiredTableColumns, ","), "", nil)
	}
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, name, 1, "", "", err)
	}

	columns := make(map[string]int, len(headers))
	for i, header := range headers {
		header = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
		if _, exists := columns[header]; !exists {
			columns[header] = i
		}
	}

	var missing []string
	for _, column := range requiredTableColumns {
		if _, ok := columns[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, errors.ParseError(errors.CodeMissingColumn, name, 1, strings.Join(missing, ","),
			strings.Join(headers, ","), nil)
	}

	var rows []*models.MatchResult
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, name, line, "", "", err)
		}
		if isBlank(record) {
			continue
		}

		row, err := parseTableRow(record, columns)
		if err != nil {
			if parseErr, ok := err.(*cellError); ok {
				return nil, errors.ParseError(errors.CodeInvalidData, name, line, parseErr.column, parseErr.value, parseErr.err)
			}
			return nil, err
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// ReadResultFile reads a result table from path on fs
func ReadResultFile(fs afero.Fs, path string) ([]*models.MatchResult, error) {
	file, err := fs.Open(path)
	if err != nil {
		code := errors.CodeFilePermission
		if exists, _ := afero.Exists(fs, path); !exists {
			code = errors.CodeFileNotFound
		}
		return nil, errors.FileError(code, path, err)
	}
	defer file.Close()

	return ReadResultTable(file, path)
}

type cellError struct {
	column string
	value  string
	err    error
}

func (e *cellError) Error() string {
	return fmt.Sprintf("column %s: invalid value %q: %v", e.column, e.value, e.err)
}

func parseTableRow(record []string, columns map[string]int) (*models.MatchResult, error) {
	cell := func(column string) (string, bool) {
		i, ok := columns[column]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	row := &models.MatchResult{}
	row.SourceFile, _ = cell("csv_file")
	row.ReceiptID, _ = cell("json_file")
	row.Currency, _ = cell("currency")
	row.Vendor, _ = cell("vendor")
	row.ImagePath, _ = cell(ImagePathColumn)

	indexValue, _ := cell("index")
	index, err := strconv.Atoi(indexValue)
	if err != nil {
		return nil, &cellError{"index", indexValue, err}
	}
	row.Index = index

	scores := []struct {
		column string
		target *float64
	}{
		{"combined_score", &row.CombinedScore},
		{"vendor_similarity", &row.VendorSimilarity},
		{"address_similarity", &row.AddressSimilarity},
	}
	for _, score := range scores {
		value, ok := cell(score.column)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, &cellError{score.column, value, err}
		}
		*score.target = parsed
	}

	if value, ok := cell("date_difference"); ok && value != "" {
		days, err := strconv.Atoi(value)
		if err != nil {
			return nil, &cellError{"date_difference", value, err}
		}
		row.DateDifference = days
	}

	if value, ok := cell("date"); ok && value != "" {
		date, err := models.ParseTimeWithFormats(value)
		if err != nil {
			return nil, &cellError{"date", value, err}
		}
		row.Date = models.CalendarDate(date)
	}

	if value, ok := cell("amount"); ok && value != "" {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, &cellError{"amount", value, err}
		}
		row.Amount = amount
	}

	return row, nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'g', -1, 64)
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
