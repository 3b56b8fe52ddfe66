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

func TestDecodeReceipt(t *testing.T) {
	loader, err := NewReceiptLoader(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		json    string
		skip    models.SkipReason
		amount  string
		date    time.Time
		vendor  string
		address string
	}{
		{
			name:   "complete",
			json:   `{"amount": 42.5, "date": "03/01/2024", "vendor": "Cafe Luna Inc", "currency": "EUR"}`,
			skip:   models.SkipNone,
			amount: "42.5",
			date:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			vendor: "Cafe Luna Inc",
		},
		{
			name:   "string amount and short year",
			json:   `{"amount": "42.50", "date": "3/1/24"}`,
			skip:   models.SkipNone,
			amount: "42.5",
			date:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "adresse alias",
			json:    `{"amount": 1, "date": "03/01/2024", "adresse": "12 Rue de Rivoli"}`,
			skip:    models.SkipNone,
			amount:  "1",
			date:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			address: "12 Rue de Rivoli",
		},
		{
			name:    "address wins over adresse",
			json:    `{"amount": 1, "date": "03/01/2024", "address": "Main St", "adresse": "Rue Principale"}`,
			skip:    models.SkipNone,
			amount:  "1",
			date:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			address: "Main St",
		},
		{
			name:    "empty address falls back",
			json:    `{"amount": 1, "date": "03/01/2024", "address": " ", "adresse": "Rue Principale"}`,
			skip:    models.SkipNone,
			amount:  "1",
			date:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			address: "Rue Principale",
		},
		{name: "missing amount", json: `{"date": "03/01/2024"}`, skip: models.SkipMissingAmount},
		{name: "null amount", json: `{"amount": null, "date": "03/01/2024"}`, skip: models.SkipMissingAmount},
		{name: "invalid amount", json: `{"amount": "twelve", "date": "03/01/2024"}`, skip: models.SkipInvalidAmount},
		{name: "missing date", json: `{"amount": 1}`, skip: models.SkipMissingDate},
		{name: "iso date rejected", json: `{"amount": 1, "date": "2024-03-01"}`, skip: models.SkipInvalidDate},
		{name: "not json", json: `{"amount": 1,`, skip: models.SkipMalformedJSON},
		{name: "array", json: `[1, 2]`, skip: models.SkipMalformedJSON},
		{name: "null document", json: `null`, skip: models.SkipMalformedJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt := loader.DecodeReceipt("receipts/receipt_007.json", []byte(tt.json))

			assert.Equal(t, "receipt_007", receipt.ID)
			assert.Equal(t, "receipts/receipt_007.json", receipt.SourcePath)
			assert.Equal(t, tt.skip, receipt.Skip)
			if tt.skip != models.SkipNone {
				return
			}
			assert.True(t, receipt.Amount.Equal(decimal.RequireFromString(tt.amount)), "amount %s", receipt.Amount)
			assert.Equal(t, tt.date, receipt.Date)
			assert.Equal(t, tt.vendor, receipt.Vendor)
			assert.Equal(t, tt.address, receipt.Address)
		})
	}
}

func TestLoadReceipt(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"r/ok.json": `{"amount": 9.99, "date": "12/31/2023", "vendor": "Shell"}`,
	})
	loader, err := NewReceiptLoader(fs, nil)
	require.NoError(t, err)

	receipt, err := loader.LoadReceipt("r/ok.json")
	require.NoError(t, err)
	assert.True(t, receipt.Matchable())
	assert.Equal(t, "ok", receipt.ID)

	_, err = loader.LoadReceipt("r/missing.json")
	reconcilerErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeFileNotFound, reconcilerErr.Code)
}

func TestLoadReceiptFolder(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"receipts/r3.json":     `{"amount": 3, "date": "03/03/2024"}`,
		"receipts/r1.json":     `{"amount": 1, "date": "03/01/2024"}`,
		"receipts/r2.JSON":     `{"amount": 2, "date": "03/02/2024"}`,
		"receipts/broken.json": `{"amount": `,
		"receipts/nodate.json": `{"amount": 5}`,
		"receipts/r1.jpg":      "binary",
	})

	config := DefaultReceiptLoaderConfig()
	config.MaxConcurrentFiles = 2
	loader, err := NewReceiptLoader(fs, config)
	require.NoError(t, err)

	receipts, stats, err := loader.LoadReceiptFolder(context.Background(), "receipts")
	require.NoError(t, err)

	var ids []string
	for _, r := range receipts {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)

	assert.Equal(t, 5, stats.FilesFound)
	assert.Equal(t, 3, stats.Loaded)
	assert.Equal(t, 2, stats.Skipped())
	assert.Equal(t, map[string]int{"malformed_json": 1, "missing_date": 1}, stats.Skips.ByReason())
	assert.Contains(t, stats.String(), "3 loaded")
}

func TestLoadReceiptFolderEdgeCases(t *testing.T) {
	fs := writeFiles(t, map[string]string{"empty/readme.txt": ""})
	loader, err := NewReceiptLoader(fs, nil)
	require.NoError(t, err)

	receipts, stats, err := loader.LoadReceiptFolder(context.Background(), "empty")
	require.NoError(t, err, "an empty receipt folder is not an error")
	assert.Empty(t, receipts)
	assert.Equal(t, 0, stats.FilesFound)

	_, _, err = loader.LoadReceiptFolder(context.Background(), "missing")
	assert.Error(t, err)
}

func TestReceiptLoaderConfigValidate(t *testing.T) {
	config := DefaultReceiptLoaderConfig()
	assert.NoError(t, config.Validate())

	config.FileExtension = "json"
	assert.Error(t, config.Validate())

	config = DefaultReceiptLoaderConfig()
	config.MaxConcurrentFiles = 0
	assert.Error(t, config.Validate())

	_, err := NewReceiptLoader(nil, config)
	assert.Error(t, err)
}
