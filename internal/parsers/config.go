package parsers

import (
	"fmt"
	"strings"
)

// StatementParserConfig describes the statement CSV layout. Each column is
// given as a list of accepted header names, matched case-insensitively in
// order.
type StatementParserConfig struct {
	Name            string   `json:"name" yaml:"name"`
	DateColumns     []string `json:"date_columns" yaml:"date_columns"`
	AmountColumns   []string `json:"amount_columns" yaml:"amount_columns"`
	CurrencyColumns []string `json:"currency_columns" yaml:"currency_columns"`
	VendorColumns   []string `json:"vendor_columns" yaml:"vendor_columns"`
	HasHeader       bool     `json:"has_header" yaml:"has_header"`
	Delimiter       rune     `json:"delimiter" yaml:"delimiter"`
	FileExtension   string   `json:"file_extension" yaml:"file_extension"`

	// MaxConcurrentFiles bounds how many statement files are parsed at once
	MaxConcurrentFiles int `json:"max_concurrent_files" yaml:"max_concurrent_files"`
}

// Validate checks if the statement parser configuration is valid
func (c *StatementParserConfig) Validate() error {
	if len(c.DateColumns) == 0 {
		return fmt.Errorf("at least one date column name is required")
	}
	if len(c.AmountColumns) == 0 {
		return fmt.Errorf("at least one amount column name is required")
	}
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\r' || c.Delimiter == '\n' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if !strings.HasPrefix(c.FileExtension, ".") {
		return fmt.Errorf("file extension must start with a dot, got %q", c.FileExtension)
	}
	if c.MaxConcurrentFiles <= 0 {
		return fmt.Errorf("max concurrent files must be positive, got %d", c.MaxConcurrentFiles)
	}
	return nil
}

// Clone returns a deep copy
func (c *StatementParserConfig) Clone() *StatementParserConfig {
	clone := *c
	clone.DateColumns = append([]string(nil), c.DateColumns...)
	clone.AmountColumns = append([]string(nil), c.AmountColumns...)
	clone.CurrencyColumns = append([]string(nil), c.CurrencyColumns...)
	clone.VendorColumns = append([]string(nil), c.VendorColumns...)
	return &clone
}

// DefaultStatementParserConfig reads date, amount, currency and vendor
// columns, with the usual aliases exported by banks
func DefaultStatementParserConfig() *StatementParserConfig {
	return StandardStatementFormat.Clone()
}

// Predefined statement layouts
var (
	// StandardStatementFormat is a comma separated export with English headers
	StandardStatementFormat = &StatementParserConfig{
		Name:               "standard",
		DateColumns:        []string{"date", "transaction_date", "posting_date", "booking_date"},
		AmountColumns:      []string{"amount", "transaction_amount", "montant"},
		CurrencyColumns:    []string{"currency", "devise"},
		VendorColumns:      []string{"vendor", "merchant", "description", "payee", "libelle"},
		HasHeader:          true,
		Delimiter:          ',',
		FileExtension:      ".csv",
		MaxConcurrentFiles: 4,
	}

	// FrenchStatementFormat is the semicolon separated export of French banks
	FrenchStatementFormat = &StatementParserConfig{
		Name:               "french",
		DateColumns:        []string{"date", "date_operation", "date_valeur"},
		AmountColumns:      []string{"montant", "amount"},
		CurrencyColumns:    []string{"devise", "currency"},
		VendorColumns:      []string{"libelle", "commercant", "vendor"},
		HasHeader:          true,
		Delimiter:          ';',
		FileExtension:      ".csv",
		MaxConcurrentFiles: 4,
	}
)

// GetStatementFormat returns a predefined layout by name, or nil
func GetStatementFormat(name string) *StatementParserConfig {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return StandardStatementFormat.Clone()
	case "french":
		return FrenchStatementFormat.Clone()
	default:
		return nil
	}
}

// ListStatementFormats returns the names of the predefined layouts
func ListStatementFormats() []string {
	return []string{StandardStatementFormat.Name, FrenchStatementFormat.Name}
}

// ReceiptLoaderConfig describes the receipt JSON documents
type ReceiptLoaderConfig struct {
	FileExtension string `json:"file_extension" yaml:"file_extension"`

	// AddressFields are tried in order; the first non-empty one wins
	AddressFields []string `json:"address_fields" yaml:"address_fields"`

	MaxConcurrentFiles int `json:"max_concurrent_files" yaml:"max_concurrent_files"`
}

// DefaultReceiptLoaderConfig returns the receipt loader defaults
func DefaultReceiptLoaderConfig() *ReceiptLoaderConfig {
	return &ReceiptLoaderConfig{
		FileExtension:      ".json",
		AddressFields:      []string{"address", "adresse"},
		MaxConcurrentFiles: 8,
	}
}

// Validate checks if the receipt loader configuration is valid
func (c *ReceiptLoaderConfig) Validate() error {
	if !strings.HasPrefix(c.FileExtension, ".") {
		return fmt.Errorf("file extension must start with a dot, got %q", c.FileExtension)
	}
	if c.MaxConcurrentFiles <= 0 {
		return fmt.Errorf("max concurrent files must be positive, got %d", c.MaxConcurrentFiles)
	}
	return nil
}
