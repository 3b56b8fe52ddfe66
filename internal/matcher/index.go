package matcher

import (
	"sort"

	"receipt-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// ReceiptIndex answers amount lookups over the loaded receipts. Lookups
// always return receipts in the order they were loaded, which the engine
// relies on for tie-breaking.
type ReceiptIndex struct {
	// ExactAmountIndex maps a normalized amount to receipt positions
	ExactAmountIndex map[string][]int

	// AmountRangeIndex is sorted by amount for tolerance lookups
	AmountRangeIndex []*AmountIndexEntry

	// AllReceipts holds every loaded receipt, including unmatchable ones
	AllReceipts []*models.ReceiptRecord

	config  *MatchingConfig
	indexed int
}

// AmountIndexEntry groups receipt positions sharing one amount
type AmountIndexEntry struct {
	Amount    decimal.Decimal
	Positions []int
}

// NewReceiptIndex indexes the matchable receipts
func NewReceiptIndex(receipts []*models.ReceiptRecord, config *MatchingConfig) *ReceiptIndex {
	index := &ReceiptIndex{
		ExactAmountIndex: make(map[string][]int),
		AllReceipts:      receipts,
		config:           config,
	}

	index.buildIndexes()
	return index
}

func (ri *ReceiptIndex) buildIndexes() {
	for pos, receipt := range ri.AllReceipts {
		if receipt == nil || !receipt.Matchable() {
			continue
		}
		key := ri.amountKey(receipt.Amount)
		ri.ExactAmountIndex[key] = append(ri.ExactAmountIndex[key], pos)
		ri.indexed++
	}

	ri.AmountRangeIndex = make([]*AmountIndexEntry, 0, len(ri.ExactAmountIndex))
	for _, positions := range ri.ExactAmountIndex {
		amount := ri.config.normalizeAmount(ri.AllReceipts[positions[0]].Amount)
		ri.AmountRangeIndex = append(ri.AmountRangeIndex, &AmountIndexEntry{
			Amount:    amount,
			Positions: positions,
		})
	}
	sort.Slice(ri.AmountRangeIndex, func(i, j int) bool {
		return ri.AmountRangeIndex[i].Amount.LessThan(ri.AmountRangeIndex[j].Amount)
	})
}

// amountKey normalizes trailing zeros so 12.5 and 12.50 share a key
func (ri *ReceiptIndex) amountKey(amount decimal.Decimal) string {
	return ri.config.normalizeAmount(amount).String()
}

// Size returns the number of indexed (matchable) receipts
func (ri *ReceiptIndex) Size() int {
	return ri.indexed
}

// Candidates returns the receipts whose amount matches the transaction
// amount under the configured mode, in load order
func (ri *ReceiptIndex) Candidates(amount decimal.Decimal) []*models.ReceiptRecord {
	var positions []int
	if ri.config.AmountMode == AmountTolerance {
		positions = ri.rangePositions(amount)
	} else {
		positions = ri.ExactAmountIndex[ri.amountKey(amount)]
	}

	if len(positions) == 0 {
		return nil
	}

	candidates := make([]*models.ReceiptRecord, 0, len(positions))
	for _, pos := range positions {
		receipt := ri.AllReceipts[pos]
		if ri.config.AmountsMatch(amount, receipt.Amount) {
			candidates = append(candidates, receipt)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates
}

// rangePositions collects positions with |amount - receipt| < tolerance
func (ri *ReceiptIndex) rangePositions(amount decimal.Decimal) []int {
	target := ri.config.normalizeAmount(amount)
	low := target.Sub(ri.config.AmountTolerance)

	start := sort.Search(len(ri.AmountRangeIndex), func(i int) bool {
		return ri.AmountRangeIndex[i].Amount.GreaterThan(low)
	})

	var positions []int
	for i := start; i < len(ri.AmountRangeIndex); i++ {
		entry := ri.AmountRangeIndex[i]
		if entry.Amount.Sub(target).GreaterThanOrEqual(ri.config.AmountTolerance) {
			break
		}
		positions = append(positions, entry.Positions...)
	}

	sort.Ints(positions)
	return positions
}
