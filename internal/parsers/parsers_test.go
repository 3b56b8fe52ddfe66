package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/afero"
)

// writeFiles creates files in an in-memory filesystem
func writeFiles(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
	return fs
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if !config.HasHeader {
		t.Error("Expected HasHeader to be true")
	}
	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
	if !config.ValidateEncoding {
		t.Error("Expected ValidateEncoding to be true")
	}
}

func TestParseContextColumnLookup(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"s.csv": "\ufeffDate, Montant ,Vendor,vendor\n",
	})
	parser := NewBaseParser(fs, nil)

	file, reader, err := parser.OpenFile("s.csv")
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer file.Close()

	parseCtx := NewParseContext(context.Background(), "s.csv")
	if err := parser.ReadHeaders(reader, parseCtx, [][]string{{"date"}, {"amount", "montant"}}); err != nil {
		t.Fatalf("ReadHeaders failed: %v", err)
	}

	tests := []struct {
		names    []string
		expected int
	}{
		{[]string{"date"}, 0},
		{[]string{"DATE"}, 0},
		{[]string{"amount", "montant"}, 1},
		{[]string{"vendor"}, 2},
		{[]string{"missing"}, -1},
	}

	for _, tt := range tests {
		if got := parseCtx.ResolveColumn(tt.names...); got != tt.expected {
			t.Errorf("ResolveColumn(%v) = %d, expected %d", tt.names, got, tt.expected)
		}
	}
}

func TestReadHeadersMissingColumns(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"s.csv":     "vendor,currency\nCafe,EUR\n",
		"empty.csv": "",
	})
	parser := NewBaseParser(fs, nil)

	for _, name := range []string{"s.csv", "empty.csv"} {
		t.Run(name, func(t *testing.T) {
			file, reader, err := parser.OpenFile(name)
			if err != nil {
				t.Fatalf("OpenFile failed: %v", err)
			}
			defer file.Close()

			err = parser.ReadHeaders(reader, NewParseContext(context.Background(), name), [][]string{{"date"}, {"amount"}})
			reconcilerErr, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("expected ReconcilerError, got %v", err)
			}
			if reconcilerErr.Code != errors.CodeMissingColumn {
				t.Errorf("expected missing column code, got %s", reconcilerErr.Code)
			}
		})
	}
}

func TestOpenFileErrors(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"latin1.csv": "date,amount,vendor\n2024-03-01,10,Caf\xe9\n",
	})
	parser := NewBaseParser(fs, nil)

	tests := []struct {
		path     string
		expected errors.ErrorCode
	}{
		{"missing.csv", errors.CodeFileNotFound},
		{"latin1.csv", errors.CodeEncodingError},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, _, err := parser.OpenFile(tt.path)
			reconcilerErr, ok := errors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("expected ReconcilerError, got %v", err)
			}
			if reconcilerErr.Code != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, reconcilerErr.Code)
			}
		})
	}
}

func TestListFiles(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"in/b.csv":       "",
		"in/a.CSV":       "",
		"in/notes.txt":   "",
		"in/.hidden.csv": "",
		"in/sub/c.csv":   "",
	})

	files, err := ListFiles(fs, "in", ".csv")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}

	expected := []string{filepath.Join("in", "a.CSV"), filepath.Join("in", "b.csv")}
	if strings.Join(files, ",") != strings.Join(expected, ",") {
		t.Errorf("expected %v, got %v", expected, files)
	}

	if _, err := ListFiles(fs, "nope", ".csv"); err == nil {
		t.Error("expected error for missing folder")
	}
	if _, err := ListFiles(fs, "in/b.csv", ".csv"); err == nil {
		t.Error("expected error when the path is a file")
	}
}

func TestListFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "r1.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := ListFiles(afero.NewOsFs(), dir, ".json")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 1 || BaseName(files[0]) != "r1" {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"receipts/receipt_001.json": "receipt_001",
		"a.b.json":                  "a.b",
		"noext":                     "noext",
	}
	for input, expected := range tests {
		if got := BaseName(input); got != expected {
			t.Errorf("BaseName(%q) = %q, expected %q", input, got, expected)
		}
	}
}

func TestParseStatsString(t *testing.T) {
	stats := NewParseStats()
	stats.FilesParsed = 2
	stats.TotalLines = 10
	stats.RecordsParsed = 8
	stats.RecordsValid = 6

	expected := "Parsed 2 files, 10 lines, 8 records (6 valid, 2 skipped)"
	if stats.String() != expected {
		t.Errorf("expected %q, got %q", expected, stats.String())
	}
	if stats.RecordsSkipped() != 2 {
		t.Errorf("expected 2 skipped, got %d", stats.RecordsSkipped())
	}
}
