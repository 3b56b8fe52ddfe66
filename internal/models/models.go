package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the layout used for dates in result tables and reports
const DateLayout = "2006-01-02"

// SkipReason explains why a record cannot take part in matching.
// The zero value means the record is matchable.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipMissingDate   SkipReason = "missing_date"
	SkipInvalidDate   SkipReason = "invalid_date"
	SkipMissingAmount SkipReason = "missing_amount"
	SkipInvalidAmount SkipReason = "invalid_amount"
	SkipMalformed     SkipReason = "malformed_record"
	SkipMalformedJSON SkipReason = "malformed_json"
	SkipOutOfRange    SkipReason = "out_of_date_range"
)

func (s SkipReason) String() string {
	if s == SkipNone {
		return "none"
	}
	return string(s)
}

// TransactionRecord is one bank statement row. Date and Amount are only
// meaningful when Skip is SkipNone.
type TransactionRecord struct {
	SourceFile string          `json:"csv_file"`
	Index      int             `json:"index"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	Vendor     string          `json:"vendor,omitempty"`
	Skip       SkipReason      `json:"skip,omitempty"`
}

// Matchable reports whether the record parsed cleanly
func (t *TransactionRecord) Matchable() bool {
	return t.Skip == SkipNone
}

func (t *TransactionRecord) String() string {
	if !t.Matchable() {
		return fmt.Sprintf("Transaction{%s#%d skipped: %s}", t.SourceFile, t.Index, t.Skip)
	}
	return fmt.Sprintf("Transaction{%s#%d %s %s %s %q}",
		t.SourceFile, t.Index, t.Date.Format(DateLayout), t.Amount.String(), t.Currency, t.Vendor)
}

// ReceiptRecord is the structured data extracted from one receipt image
type ReceiptRecord struct {
	ID         string          `json:"id"`
	SourcePath string          `json:"source_path"`
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date"`
	Currency   string          `json:"currency,omitempty"`
	Vendor     string          `json:"vendor,omitempty"`
	Address    string          `json:"address,omitempty"`
	Skip       SkipReason      `json:"skip,omitempty"`
}

// Matchable reports whether the receipt parsed cleanly
func (r *ReceiptRecord) Matchable() bool {
	return r.Skip == SkipNone
}

func (r *ReceiptRecord) String() string {
	return fmt.Sprintf("Receipt{%s %s %s %q}", r.ID, r.Date.Format(DateLayout), r.Amount.String(), r.Vendor)
}

// MatchResult is one row of the result table
type MatchResult struct {
	SourceFile        string          `json:"csv_file"`
	ReceiptID         string          `json:"json_file"`
	Index             int             `json:"index"`
	CombinedScore     float64         `json:"combined_score"`
	VendorSimilarity  float64         `json:"vendor_similarity"`
	AddressSimilarity float64         `json:"address_similarity"`
	DateDifference    int             `json:"date_difference"`
	Date              time.Time       `json:"date"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Vendor            string          `json:"vendor"`
	ImagePath         string          `json:"image_path,omitempty"`
}

// ResultKey identifies a result row for deduplication
type ResultKey struct {
	SourceFile string
	ReceiptID  string
	Index      int
}

// Key returns the deduplication key of the row
func (m *MatchResult) Key() ResultKey {
	return ResultKey{SourceFile: m.SourceFile, ReceiptID: m.ReceiptID, Index: m.Index}
}

// WithImagePath returns a copy of the row with ImagePath set
func (m *MatchResult) WithImagePath(path string) *MatchResult {
	annotated := *m
	annotated.ImagePath = path
	return &annotated
}

// MarshalJSON writes Date as YYYY-MM-DD
func (m *MatchResult) MarshalJSON() ([]byte, error) {
	type Alias MatchResult
	return json.Marshal(&struct {
		*Alias
		Date string `json:"date"`
	}{
		Alias: (*Alias)(m),
		Date:  m.Date.Format(DateLayout),
	})
}

// UnmarshalJSON reads the format written by MarshalJSON
func (m *MatchResult) UnmarshalJSON(data []byte) error {
	type Alias MatchResult
	aux := &struct {
		*Alias
		Date string `json:"date"`
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	date, err := time.Parse(DateLayout, aux.Date)
	if err != nil {
		return fmt.Errorf("invalid result date %q: %w", aux.Date, err)
	}
	m.Date = date
	return nil
}

func (m *MatchResult) String() string {
	return fmt.Sprintf("Match{%s#%d -> %s score=%.4f days=%d}",
		m.SourceFile, m.Index, m.ReceiptID, m.CombinedScore, m.DateDifference)
}

// FlexibleAmount decodes a JSON amount given either as a number or as a
// numeric string. Null, absent, and empty string leave Set false.
type FlexibleAmount struct {
	Value decimal.Decimal
	Set   bool
	Raw   string
}

func (a *FlexibleAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}

	a.Raw = raw
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	value, err := ParseDecimalFromString(raw)
	if err != nil {
		return err
	}
	a.Value = value
	a.Set = true
	return nil
}

// FlexibleString decodes a JSON value that should be text but may arrive as
// a number (OCR output is loosely typed). Null leaves it empty.
type FlexibleString string

func (s *FlexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexibleString(str)
		return nil
	}
	*s = FlexibleString(string(data))
	return nil
}

// ParseDecimalFromString parses an amount, tolerating currency symbols,
// thousands separators and surrounding spaces
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "", "\u00a0", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

// statementDateLayouts are tried in order for statement dates
var statementDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// ParseTimeWithFormats parses a statement date using the common layouts.
// Ambiguous slash dates are read month first.
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	var lastErr error
	for _, layout := range statementDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// receiptDateLayouts accept MM/DD/YYYY and MM/DD/YY, with or without
// zero padding. The four digit year is tried first.
var receiptDateLayouts = []string{"1/2/2006", "1/2/06"}

// ParseReceiptDate parses a receipt date
func ParseReceiptDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("receipt date cannot be empty")
	}

	for _, layout := range receiptDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unexpected receipt date format: %s", s)
}

const secondsPerDay = 24 * 60 * 60

// CalendarDate drops the time of day and location, keeping the date as written
func CalendarDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of whole calendar days between a and b
func DaysBetween(a, b time.Time) int {
	// midnight UTC is a whole multiple of a day in Unix seconds
	diff := (CalendarDate(a).Unix() - CalendarDate(b).Unix()) / secondsPerDay
	if diff < 0 {
		diff = -diff
	}
	return int(diff)
}

// IsWithinDateRange reports whether t falls in [start, end]; nil bounds are open
func IsWithinDateRange(t time.Time, start, end *time.Time) bool {
	day := CalendarDate(t)
	if start != nil && day.Before(CalendarDate(*start)) {
		return false
	}
	if end != nil && day.After(CalendarDate(*end)) {
		return false
	}
	return true
}
