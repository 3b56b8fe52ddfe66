package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
)

const testStatement = `date,amount,currency,vendor
2024-03-01,42.50,EUR,Cafe Luna
2024-03-02,100.00,EUR,Hardware Store
2024-03-03,15.00,EUR,Uber
2024-03-04,15.00,eur ,  Uber   Trip
bad,1,EUR,Broken
`

// createTestFs builds a statements folder, a receipts folder and an images
// folder in memory
func createTestFs(t *testing.T) afero.Fs {
	t.Helper()

	files := map[string]string{
		"statements/march.csv": testStatement,
		"statements/notes.txt": "ignored",
		"receipts/r1.json":     `{"amount": 42.50, "date": "03/01/2024", "vendor": "Cafe Luna Inc", "currency": "EUR"}`,
		"receipts/r2.json":     `{"amount": 99.00, "date": "03/02/2024", "vendor": "Hardware Store"}`,
		"receipts/r3.json":     `{"amount": "15.00", "date": "03/03/2024", "vendor": "Uber", "adresse": "1 Rue Uber"}`,
		"receipts/broken.json": `{"amount": `,
		"images/r1.jpg":        "jpg",
		"images/r3.png":        "png",
	}

	fs := afero.NewMemMapFs()
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	return fs
}

func createTestService(t *testing.T, fs afero.Fs, config *Config) *ReconciliationService {
	t.Helper()

	service, err := NewReconciliationService(fs, config)
	if err != nil {
		t.Fatalf("Failed to create reconciliation service: %v", err)
	}
	return service
}

func testRequest() *ReconciliationRequest {
	return &ReconciliationRequest{
		StatementsDir: "statements",
		ReceiptsDir:   "receipts",
		ImagesDir:     "images",
	}
}

func date(s string) *time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestProcessReconciliation(t *testing.T) {
	service := createTestService(t, createTestFs(t), nil)

	result, err := service.ProcessReconciliation(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}

	if _, err := uuid.Parse(result.RunID); err != nil {
		t.Errorf("Expected a UUID run id, got %q", result.RunID)
	}

	expected := []struct {
		index     int
		receiptID string
		imagePath string
	}{
		{0, "r1", filepath.Join("images", "r1.jpg")},
		{2, "r3", filepath.Join("images", "r3.png")},
		{3, "r3", filepath.Join("images", "r3.png")},
	}

	if len(result.Matches) != len(expected) {
		t.Fatalf("Expected %d matches, got %d: %v", len(expected), len(result.Matches), result.Matches)
	}
	for i, want := range expected {
		got := result.Matches[i]
		if got.Index != want.index || got.ReceiptID != want.receiptID {
			t.Errorf("Match %d: expected #%d -> %s, got #%d -> %s", i, want.index, want.receiptID, got.Index, got.ReceiptID)
		}
		if got.ImagePath != want.imagePath {
			t.Errorf("Match %d: expected image %q, got %q", i, want.imagePath, got.ImagePath)
		}
		if got.SourceFile != filepath.Join("statements", "march.csv") {
			t.Errorf("Match %d: unexpected source file %q", i, got.SourceFile)
		}
	}

	if result.Matches[2].Vendor != "Uber Trip" || result.Matches[2].Currency != "EUR" {
		t.Errorf("Expected normalized vendor and currency, got %q %q", result.Matches[2].Vendor, result.Matches[2].Currency)
	}

	if len(result.UnmatchedTransactions) != 1 || result.UnmatchedTransactions[0].Vendor != "Hardware Store" {
		t.Errorf("Expected the 100.00 transaction to be unmatched, got %v", result.UnmatchedTransactions)
	}

	summary := result.Summary
	checks := []struct {
		name     string
		got      int
		expected int
	}{
		{"statement files", summary.StatementFiles, 1},
		{"total transactions", summary.TotalTransactions, 5},
		{"skipped transactions", summary.SkippedTransactions, 1},
		{"out of range", summary.OutOfRangeTransactions, 0},
		{"receipt files", summary.ReceiptFiles, 4},
		{"loaded receipts", summary.LoadedReceipts, 3},
		{"skipped receipts", summary.SkippedReceipts, 1},
		{"matched", summary.MatchedTransactions, 3},
		{"unmatched", summary.UnmatchedTransactions, 1},
		{"shared receipts", summary.SharedReceipts, 1},
		{"images resolved", summary.ImagesResolved, 3},
	}
	for _, check := range checks {
		if check.got != check.expected {
			t.Errorf("%s: expected %d, got %d", check.name, check.expected, check.got)
		}
	}

	if summary.MatchRate != 0.75 {
		t.Errorf("Expected match rate 0.75, got %f", summary.MatchRate)
	}
	if !summary.MatchedAmount.Equal(decimal.RequireFromString("72.5")) {
		t.Errorf("Expected matched amount 72.5, got %s", summary.MatchedAmount)
	}
	if summary.AverageScore <= 0 || summary.AverageScore > 1 {
		t.Errorf("Average score out of range: %f", summary.AverageScore)
	}
	if summary.TransactionSkipReasons["invalid_date"] != 1 {
		t.Errorf("Expected one invalid_date skip, got %v", summary.TransactionSkipReasons)
	}
	if summary.ReceiptSkipReasons["malformed_json"] != 1 {
		t.Errorf("Expected one malformed_json skip, got %v", summary.ReceiptSkipReasons)
	}

	if result.SharedReceipts["r3"] != 2 {
		t.Errorf("Expected r3 to back 2 transactions, got %v", result.SharedReceipts)
	}
	if ids := result.SharedReceiptIDs(); len(ids) != 1 || ids[0] != "r3" {
		t.Errorf("Unexpected shared receipt ids: %v", ids)
	}
	if len(result.SkippedTransactions) != 1 || len(result.SkippedReceipts) != 1 {
		t.Errorf("Expected skip samples, got %v and %v", result.SkippedTransactions, result.SkippedReceipts)
	}
	if !result.HasMatches() {
		t.Error("Expected HasMatches to be true")
	}
	if result.ProcessingStats.CandidatesScored != 3 {
		t.Errorf("Expected 3 candidates scored, got %d", result.ProcessingStats.CandidatesScored)
	}
}

func TestProcessReconciliationWithoutImages(t *testing.T) {
	service := createTestService(t, createTestFs(t), nil)
	request := testRequest()
	request.ImagesDir = ""

	result, err := service.ProcessReconciliation(context.Background(), request)
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}

	for _, match := range result.Matches {
		if match.ImagePath != "" {
			t.Errorf("Expected no image path without an images folder, got %q", match.ImagePath)
		}
	}
	if result.Summary.ImagesResolved != 0 {
		t.Errorf("Expected 0 images resolved, got %d", result.Summary.ImagesResolved)
	}
}

func TestProcessReconciliationDateRange(t *testing.T) {
	service := createTestService(t, createTestFs(t), nil)
	request := testRequest()
	request.StartDate = date("2024-03-02")
	request.EndDate = date("2024-03-03")

	result, err := service.ProcessReconciliation(context.Background(), request)
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}

	if len(result.Matches) != 1 || result.Matches[0].Index != 2 {
		t.Fatalf("Expected only transaction #2 to match, got %v", result.Matches)
	}

	summary := result.Summary
	if summary.OutOfRangeTransactions != 2 {
		t.Errorf("Expected 2 out of range transactions, got %d", summary.OutOfRangeTransactions)
	}
	if summary.SkippedTransactions != 1 {
		t.Errorf("Expected 1 skipped transaction, got %d", summary.SkippedTransactions)
	}
	if summary.UnmatchedTransactions != 1 {
		t.Errorf("Expected 1 unmatched transaction, got %d", summary.UnmatchedTransactions)
	}
	if summary.SharedReceipts != 0 {
		t.Errorf("Expected no shared receipts, got %d", summary.SharedReceipts)
	}
	if summary.TransactionSkipReasons[string(models.SkipOutOfRange)] != 2 {
		t.Errorf("Expected out of range in skip reasons, got %v", summary.TransactionSkipReasons)
	}
	if summary.DateRange == nil || !summary.DateRange.Start.Equal(*request.StartDate) {
		t.Errorf("Expected the date range in the summary, got %v", summary.DateRange)
	}
}

func TestProcessReconciliationTolerance(t *testing.T) {
	fs := createTestFs(t)
	if err := afero.WriteFile(fs, "receipts/r2.json",
		[]byte(`{"amount": 99.995, "date": "03/02/2024", "vendor": "Hardware Store"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	exact := createTestService(t, fs, nil)
	result, err := exact.ProcessReconciliation(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}
	if result.Summary.MatchedTransactions != 3 {
		t.Errorf("Exact mode: expected 3 matches, got %d", result.Summary.MatchedTransactions)
	}

	config := DefaultConfig()
	config.Matching.AmountMode = "tolerance"
	tolerant := createTestService(t, fs, config)
	result, err = tolerant.ProcessReconciliation(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}
	if result.Summary.MatchedTransactions != 4 {
		t.Errorf("Tolerance mode: expected 4 matches, got %d", result.Summary.MatchedTransactions)
	}
}

func TestProcessReconciliationConcurrentMatchesSequential(t *testing.T) {
	fs := createTestFs(t)

	sequential, err := createTestService(t, fs, nil).ProcessReconciliation(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Sequential reconciliation failed: %v", err)
	}

	config := DefaultConfig()
	config.Matching.MaxWorkers = 4
	config.Statements.MaxConcurrentFiles = 2
	concurrent, err := createTestService(t, fs, config).ProcessReconciliation(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Concurrent reconciliation failed: %v", err)
	}

	if len(sequential.Matches) != len(concurrent.Matches) {
		t.Fatalf("Expected %d matches, got %d", len(sequential.Matches), len(concurrent.Matches))
	}
	for i := range sequential.Matches {
		if sequential.Matches[i].Key() != concurrent.Matches[i].Key() {
			t.Errorf("Row %d differs: %v vs %v", i, sequential.Matches[i], concurrent.Matches[i])
		}
	}
	if sequential.RunID == concurrent.RunID {
		t.Error("Expected distinct run ids")
	}
}

func TestProcessReconciliationErrors(t *testing.T) {
	service := createTestService(t, createTestFs(t), nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		request  *ReconciliationRequest
		category errors.ErrorCategory
		code     errors.ErrorCode
	}{
		{
			name:     "nil request",
			ctx:      context.Background(),
			request:  nil,
			category: errors.CategoryValidation,
			code:     errors.CodeMissingField,
		},
		{
			name:     "missing receipts dir",
			ctx:      context.Background(),
			request:  &ReconciliationRequest{StatementsDir: "statements"},
			category: errors.CategoryValidation,
			code:     errors.CodeInvalidConfig,
		},
		{
			name: "inverted date range",
			ctx:  context.Background(),
			request: &ReconciliationRequest{
				StatementsDir: "statements",
				ReceiptsDir:   "receipts",
				StartDate:     date("2024-03-05"),
				EndDate:       date("2024-03-01"),
			},
			category: errors.CategoryValidation,
			code:     errors.CodeInvalidConfig,
		},
		{
			name:     "statements folder missing",
			ctx:      context.Background(),
			request:  &ReconciliationRequest{StatementsDir: "nope", ReceiptsDir: "receipts"},
			category: errors.CategoryFile,
			code:     errors.CodeFileNotFound,
		},
		{
			name:     "statements folder without csv",
			ctx:      context.Background(),
			request:  &ReconciliationRequest{StatementsDir: "images", ReceiptsDir: "receipts"},
			category: errors.CategoryFile,
			code:     errors.CodeNoInputFiles,
		},
		{
			name:     "cancelled",
			ctx:      cancelled,
			request:  testRequest(),
			category: errors.CategoryReconciliation,
			code:     errors.CodeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.ProcessReconciliation(tt.ctx, tt.request)
			if err == nil {
				t.Fatalf("Expected error, got result %v", result)
			}

			reconcilerErr, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("Expected ReconcilerError, got %T: %v", err, err)
			}
			if reconcilerErr.Category != tt.category {
				t.Errorf("Expected category %s, got %s", tt.category, reconcilerErr.Category)
			}
			if reconcilerErr.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, reconcilerErr.Code)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	noMatching := DefaultConfig()
	noMatching.Matching = nil

	badMatching := DefaultConfig()
	badMatching.Matching.AmountMode = "fuzzy"

	badRange := DefaultConfig()
	badRange.Preprocessing.StartDate = date("2024-02-01")
	badRange.Preprocessing.EndDate = date("2024-01-01")

	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{"default", DefaultConfig(), false},
		{"missing matching", noMatching, true},
		{"invalid amount mode", badMatching, true},
		{"inverted range", badRange, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.expectError {
				t.Errorf("Validate() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}

	if _, err := NewReconciliationService(afero.NewMemMapFs(), badMatching); err == nil {
		t.Error("Expected NewReconciliationService to reject an invalid config")
	}
}

func TestServiceAccessors(t *testing.T) {
	service := createTestService(t, createTestFs(t), nil)

	matching := service.GetMatchingConfig()
	matching.MaxWorkers = 99
	if service.GetConfiguration().Matching.MaxWorkers == 99 {
		t.Error("GetMatchingConfig must return a copy")
	}
	if service.Locator() == nil || service.ReceiptLoader() == nil {
		t.Error("Expected locator and receipt loader to be set")
	}
}
