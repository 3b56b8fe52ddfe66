package matcher

import (
	"receipt-reconciliation-service/internal/models"
)

// Deduplicate drops rows whose (source file, receipt id, index) key was
// already seen. The first occurrence is kept and order is preserved.
func Deduplicate(results []*models.MatchResult) []*models.MatchResult {
	seen := make(map[models.ResultKey]struct{}, len(results))
	unique := make([]*models.MatchResult, 0, len(results))

	for _, result := range results {
		if result == nil {
			continue
		}
		key := result.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, result)
	}

	return unique
}

// SharedReceipts returns, for every receipt chosen by more than one
// transaction, the rows that chose it
func SharedReceipts(results []*models.MatchResult) map[string][]*models.MatchResult {
	byReceipt := make(map[string][]*models.MatchResult)
	for _, result := range results {
		byReceipt[result.ReceiptID] = append(byReceipt[result.ReceiptID], result)
	}

	shared := make(map[string][]*models.MatchResult)
	for id, rows := range byReceipt {
		if len(rows) > 1 {
			shared[id] = rows
		}
	}
	return shared
}
