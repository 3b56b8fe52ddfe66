// Package matcher implements the receipt matching engine.
//
// For every bank transaction the engine selects the receipts whose amount
// matches, scores each of them on vendor text similarity and date
// proximity, and keeps the best one:
//
//	text     = max(sim(tx.vendor, r.vendor), sim(tx.vendor, r.address))
//	date     = 1 / (days + 1)
//	combined = (text + date) / 2
//
// Matching is greedy per transaction. A receipt can be the best match of
// several transactions; no one-to-one assignment is attempted.
//
// Example usage:
//
//	engine, err := matcher.NewMatchingEngine(matcher.DefaultMatchingConfig())
//	engine.LoadReceipts(receipts)
//	results, err := engine.Reconcile(transactions)
package matcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountMode selects how transaction and receipt amounts are compared
type AmountMode string

const (
	// AmountExact requires equal amounts
	AmountExact AmountMode = "exact"

	// AmountTolerance accepts amounts whose absolute difference is strictly
	// below MatchingConfig.AmountTolerance
	AmountTolerance AmountMode = "tolerance"
)

// DefaultAmountTolerance is one cent
var DefaultAmountTolerance = decimal.New(1, -2)

// ParseAmountMode parses "exact" or "tolerance"
func ParseAmountMode(s string) (AmountMode, error) {
	switch mode := AmountMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case AmountExact, AmountTolerance:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown amount mode %q (expected exact or tolerance)", s)
	}
}

// MatchingConfig holds the matching parameters.
//
// Currency is deliberately not part of candidate selection: receipts and
// statements carry it, but two records with the same amount in different
// currencies are still candidates for each other.
type MatchingConfig struct {
	AmountMode AmountMode `json:"amount_mode" yaml:"amount_mode"`

	// AmountTolerance is used only in AmountTolerance mode
	AmountTolerance decimal.Decimal `json:"amount_tolerance" yaml:"amount_tolerance"`

	// CompareAbsoluteAmounts ignores the sign, so a debit of -12.00 matches
	// a receipt of 12.00
	CompareAbsoluteAmounts bool `json:"compare_absolute_amounts" yaml:"compare_absolute_amounts"`

	// MaxWorkers is the number of goroutines scoring transactions. Values
	// below 2 run sequentially. Output does not depend on it.
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
}

// DefaultMatchingConfig matches exact amounts sequentially
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountMode:      AmountExact,
		AmountTolerance: DefaultAmountTolerance,
		MaxWorkers:      1,
	}
}

// TolerantMatchingConfig accepts amounts less than one cent apart
func TolerantMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.AmountMode = AmountTolerance
	return config
}

// Validate checks the configuration
func (mc *MatchingConfig) Validate() error {
	switch mc.AmountMode {
	case AmountExact:
	case AmountTolerance:
		if !mc.AmountTolerance.IsPositive() {
			return fmt.Errorf("amount tolerance must be positive in tolerance mode, got %s", mc.AmountTolerance)
		}
	default:
		return fmt.Errorf("unknown amount mode %q", mc.AmountMode)
	}

	if mc.MaxWorkers < 0 {
		return fmt.Errorf("max workers cannot be negative: %d", mc.MaxWorkers)
	}

	return nil
}

// Clone returns a copy of the configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// normalizeAmount applies the sign policy to an amount before comparison
func (mc *MatchingConfig) normalizeAmount(amount decimal.Decimal) decimal.Decimal {
	if mc.CompareAbsoluteAmounts {
		return amount.Abs()
	}
	return amount
}

// AmountsMatch reports whether a transaction amount and a receipt amount
// make the receipt a candidate
func (mc *MatchingConfig) AmountsMatch(txAmount, receiptAmount decimal.Decimal) bool {
	a := mc.normalizeAmount(txAmount)
	b := mc.normalizeAmount(receiptAmount)

	if mc.AmountMode == AmountTolerance {
		return a.Sub(b).Abs().LessThan(mc.AmountTolerance)
	}
	return a.Equal(b)
}

func (mc *MatchingConfig) String() string {
	if mc.AmountMode == AmountTolerance {
		return fmt.Sprintf("MatchingConfig{AmountMode: %s, Tolerance: %s, Absolute: %t, Workers: %d}",
			mc.AmountMode, mc.AmountTolerance, mc.CompareAbsoluteAmounts, mc.MaxWorkers)
	}
	return fmt.Sprintf("MatchingConfig{AmountMode: %s, Absolute: %t, Workers: %d}",
		mc.AmountMode, mc.CompareAbsoluteAmounts, mc.MaxWorkers)
}
