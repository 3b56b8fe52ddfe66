package reporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultTableRoundTrip(t *testing.T) {
	rows := createSampleReconciliationResult().Matches

	var buffer bytes.Buffer
	require.NoError(t, WriteResultTable(&buffer, rows))

	read, err := ReadResultTable(&buffer, "results.csv")
	require.NoError(t, err)
	require.Len(t, read, len(rows))

	for i, row := range rows {
		got := read[i]
		assert.Equal(t, row.Key(), got.Key())
		assert.Equal(t, row.CombinedScore, got.CombinedScore)
		assert.Equal(t, row.VendorSimilarity, got.VendorSimilarity)
		assert.Equal(t, row.AddressSimilarity, got.AddressSimilarity)
		assert.Equal(t, row.DateDifference, got.DateDifference)
		assert.True(t, row.Date.Equal(got.Date), "row %d date", i)
		assert.True(t, row.Amount.Equal(got.Amount), "row %d amount", i)
		assert.Equal(t, row.Currency, got.Currency)
		assert.Equal(t, row.Vendor, got.Vendor)
		assert.Equal(t, row.ImagePath, got.ImagePath)
	}
}

func TestWriteResultTableWithoutImages(t *testing.T) {
	rows := []*models.MatchResult{{
		SourceFile:    "a.csv",
		ReceiptID:     "r1",
		CombinedScore: 1.0 / 3.0,
		Date:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.NewFromInt(5),
		Vendor:        "Shop, Inc",
	}}

	var buffer bytes.Buffer
	require.NoError(t, WriteResultTable(&buffer, rows))

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(ResultTableColumns, ","), lines[0])
	assert.Equal(t, `a.csv,r1,0,0.3333333333333333,0,0,0,2024-03-01,5,,"Shop, Inc"`, lines[1])
}

func TestReadResultTable(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		rows    int
		code    errors.ErrorCode
		checkFn func(t *testing.T, rows []*models.MatchResult)
	}{
		{
			name:  "minimal columns",
			input: "csv_file,json_file,index\na.csv,r1,4\n",
			rows:  1,
			checkFn: func(t *testing.T, rows []*models.MatchResult) {
				assert.Equal(t, models.ResultKey{SourceFile: "a.csv", ReceiptID: "r1", Index: 4}, rows[0].Key())
				assert.True(t, rows[0].Date.IsZero())
			},
		},
		{
			name:  "bom, case and extra columns",
			input: "\ufeffCSV_File,JSON_File,Index,Notes,image_path\na.csv,r1,0,whatever,images/r1.png\n",
			rows:  1,
			checkFn: func(t *testing.T, rows []*models.MatchResult) {
				assert.Equal(t, "images/r1.png", rows[0].ImagePath)
			},
		},
		{
			name:  "blank rows skipped",
			input: "csv_file,json_file,index\na.csv,r1,0\n,,\nb.csv,r2,1\n",
			rows:  2,
		},
		{
			name:  "us date accepted",
			input: "csv_file,json_file,index,date\na.csv,r1,0,03/01/2024\n",
			rows:  1,
			checkFn: func(t *testing.T, rows []*models.MatchResult) {
				assert.Equal(t, "2024-03-01", rows[0].Date.Format(models.DateLayout))
			},
		},
		{
			name:  "empty input",
			input: "",
			code:  errors.CodeMissingColumn,
		},
		{
			name:  "missing required column",
			input: "csv_file,index\na.csv,0\n",
			code:  errors.CodeMissingColumn,
		},
		{
			name:  "invalid index",
			input: "csv_file,json_file,index\na.csv,r1,first\n",
			code:  errors.CodeInvalidData,
		},
		{
			name:  "invalid score",
			input: "csv_file,json_file,index,combined_score\na.csv,r1,0,high\n",
			code:  errors.CodeInvalidData,
		},
		{
			name:  "invalid amount",
			input: "csv_file,json_file,index,amount\na.csv,r1,0,12abc\n",
			code:  errors.CodeInvalidData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ReadResultTable(strings.NewReader(tt.input), "results.csv")

			if tt.code != "" {
				reconcilerErr, ok := errors.AsReconcilerError(err)
				require.True(t, ok, "expected a reconciler error, got %v", err)
				assert.Equal(t, errors.CategoryParse, reconcilerErr.Category)
				assert.Equal(t, tt.code, reconcilerErr.Code)
				return
			}

			require.NoError(t, err)
			assert.Len(t, rows, tt.rows)
			if tt.checkFn != nil {
				tt.checkFn(t, rows)
			}
		})
	}
}

func TestResultFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	rows := createSampleReconciliationResult().Matches

	require.NoError(t, WriteResultFile(fs, "out/results.csv", rows))

	read, err := ReadResultFile(fs, "out/results.csv")
	require.NoError(t, err)
	assert.Len(t, read, len(rows))

	_, err = ReadResultFile(fs, "out/missing.csv")
	reconcilerErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeFileNotFound, reconcilerErr.Code)

	err = WriteResultFile(afero.NewReadOnlyFs(fs), "out/other.csv", rows)
	reconcilerErr, ok = errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryFile, reconcilerErr.Category)
}
