package parsers

import (
	"context"
	"testing"
	"time"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatements(t *testing.T) {
	content := "date,amount,currency,vendor\n" +
		"2024-03-01,42.50,EUR,Cafe Luna\n" +
		"\n" +
		"03/02/2024,\"1,250.00\",EUR,Hotel Paris\n" +
		"not-a-date,10,EUR,Broken Date\n" +
		",10,EUR,No Date\n" +
		"2024-03-04,abc,EUR,Broken Amount\n" +
		"2024-03-05,,EUR,No Amount\n" +
		"2024-03-06,-8.20,EUR\n"

	fs := writeFiles(t, map[string]string{"statements/march.csv": content})
	parser, err := NewStatementParser(fs, nil)
	require.NoError(t, err)

	records, stats, err := parser.ParseStatements("statements/march.csv")
	require.NoError(t, err)
	require.Len(t, records, 7)

	expected := []struct {
		index  int
		skip   models.SkipReason
		amount string
		vendor string
	}{
		{0, models.SkipNone, "42.5", "Cafe Luna"},
		{1, models.SkipNone, "1250", "Hotel Paris"},
		{2, models.SkipInvalidDate, "0", "Broken Date"},
		{3, models.SkipMissingDate, "0", "No Date"},
		{4, models.SkipInvalidAmount, "0", "Broken Amount"},
		{5, models.SkipMissingAmount, "0", "No Amount"},
		{6, models.SkipNone, "-8.2", ""},
	}

	for i, want := range expected {
		got := records[i]
		assert.Equal(t, want.index, got.Index, "row %d index", i)
		assert.Equal(t, want.skip, got.Skip, "row %d skip", i)
		assert.Equal(t, want.vendor, got.Vendor, "row %d vendor", i)
		assert.Equal(t, "statements/march.csv", got.SourceFile)
		if want.skip == models.SkipNone {
			assert.True(t, got.Amount.Equal(decimal.RequireFromString(want.amount)), "row %d amount %s", i, got.Amount)
		}
	}

	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), records[1].Date)
	assert.Equal(t, "EUR", records[0].Currency)

	assert.Equal(t, 1, stats.FilesParsed)
	assert.Equal(t, 7, stats.RecordsParsed)
	assert.Equal(t, 3, stats.RecordsValid)
	assert.Equal(t, 4, stats.RecordsSkipped())
	assert.Equal(t, map[string]int{
		"invalid_date":   1,
		"missing_date":   1,
		"invalid_amount": 1,
		"missing_amount": 1,
	}, stats.Skips.ByReason())
}

func TestParseStatementsBlankRowsKeepNoIndex(t *testing.T) {
	content := "date,amount,currency,vendor\n" +
		"2024-03-01,42.50,EUR,Cafe Luna\n" +
		",,,\n" +
		" , ,,\n" +
		"\n" +
		"2024-03-02,15.00,EUR,Uber\n"

	fs := writeFiles(t, map[string]string{"statements/march.csv": content})
	parser, err := NewStatementParser(fs, nil)
	require.NoError(t, err)

	records, stats, err := parser.ParseStatements("statements/march.csv")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 0, records[0].Index)
	assert.Equal(t, 1, records[1].Index)
	assert.Equal(t, "Uber", records[1].Vendor)
	assert.Equal(t, 0, stats.RecordsSkipped())
}

func TestParseStatementsAliases(t *testing.T) {
	tests := []struct {
		name    string
		config  *StatementParserConfig
		content string
		vendor  string
	}{
		{
			name:    "english aliases",
			content: "Transaction_Date,Transaction_Amount,Merchant\n2024-03-01,5.00,Uber Trip\n",
			vendor:  "Uber Trip",
		},
		{
			name:    "description as vendor",
			content: "date,amount,description\n2024-03-01,5.00,Uber Trip\n",
			vendor:  "Uber Trip",
		},
		{
			name:    "french layout",
			config:  GetStatementFormat("french"),
			content: "date_operation;montant;devise;libelle\n2024-03-01;5.00;EUR;Boulangerie Paul\n",
			vendor:  "Boulangerie Paul",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := writeFiles(t, map[string]string{"s.csv": tt.content})
			parser, err := NewStatementParser(fs, tt.config)
			require.NoError(t, err)

			records, _, err := parser.ParseStatements("s.csv")
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, tt.vendor, records[0].Vendor)
		})
	}
}

func TestParseStatementsMissingColumns(t *testing.T) {
	fs := writeFiles(t, map[string]string{"s.csv": "vendor,currency\nCafe,EUR\n"})
	parser, err := NewStatementParser(fs, nil)
	require.NoError(t, err)

	_, _, err = parser.ParseStatements("s.csv")
	require.Error(t, err)

	reconcilerErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeMissingColumn, reconcilerErr.Code)
	assert.Equal(t, 3, reconcilerErr.GetExitCode())
}

func TestLoadStatementFolder(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"statements/b.csv":     "date,amount,vendor\n2024-03-02,2,B0\n2024-03-03,3,B1\n",
		"statements/a.csv":     "date,amount,vendor\n2024-03-01,1,A0\nbad,1,A1\n",
		"statements/c.csv":     "date,amount,vendor\n2024-03-04,4,C0\n",
		"statements/readme.md": "not a statement",
	})

	config := DefaultStatementParserConfig()
	config.MaxConcurrentFiles = 2
	parser, err := NewStatementParser(fs, config)
	require.NoError(t, err)

	set, err := parser.LoadStatementFolder(context.Background(), "statements")
	require.NoError(t, err)

	require.Len(t, set.Files, 3)
	var vendors []string
	for _, tx := range set.Transactions {
		vendors = append(vendors, tx.Vendor)
	}
	assert.Equal(t, []string{"A0", "A1", "B0", "B1", "C0"}, vendors)
	assert.Len(t, set.Matchable(), 4)

	assert.Equal(t, 3, set.Stats.FilesParsed)
	assert.Equal(t, 5, set.Stats.RecordsParsed)
	assert.Equal(t, 1, set.Stats.Skips.Total())

	assert.Equal(t, 1, set.Transactions[1].Index, "index is per file")
	assert.Equal(t, 0, set.Transactions[2].Index, "index restarts in each file")
}

func TestLoadStatementFolderErrors(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"empty/notes.txt": "",
		"bad/a.csv":       "date,amount\n2024-03-01,1\n",
		"bad/b.csv":       "vendor\nx\n",
	})
	parser, err := NewStatementParser(fs, nil)
	require.NoError(t, err)

	tests := []struct {
		dir      string
		expected errors.ErrorCode
	}{
		{"missing", errors.CodeFileNotFound},
		{"empty", errors.CodeNoInputFiles},
		{"bad", errors.CodeMissingColumn},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			_, err := parser.LoadStatementFolder(context.Background(), tt.dir)
			reconcilerErr, ok := errors.AsReconcilerError(err)
			require.True(t, ok, "expected ReconcilerError, got %v", err)
			assert.Equal(t, tt.expected, reconcilerErr.Code)
		})
	}
}

func TestLoadStatementFolderCancelled(t *testing.T) {
	fs := writeFiles(t, map[string]string{"s/a.csv": "date,amount\n2024-03-01,1\n"})
	parser, err := NewStatementParser(fs, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = parser.LoadStatementFolder(ctx, "s")
	reconcilerErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeCancelled, reconcilerErr.Code)
}

func TestStatementParserConfigValidate(t *testing.T) {
	noDate := DefaultStatementParserConfig()
	noDate.DateColumns = nil

	badExt := DefaultStatementParserConfig()
	badExt.FileExtension = "csv"

	noWorkers := DefaultStatementParserConfig()
	noWorkers.MaxConcurrentFiles = 0

	tests := []struct {
		name        string
		config      *StatementParserConfig
		expectError bool
	}{
		{"default", DefaultStatementParserConfig(), false},
		{"french", GetStatementFormat("french"), false},
		{"no date column", noDate, true},
		{"extension without dot", badExt, true},
		{"no concurrency", noWorkers, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			assert.Equal(t, tt.expectError, err != nil, "error: %v", err)
		})
	}

	assert.Nil(t, GetStatementFormat("klingon"))
	assert.Equal(t, []string{"standard", "french"}, ListStatementFormats())
}
