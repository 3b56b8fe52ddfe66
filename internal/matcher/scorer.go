package matcher

import (
	"receipt-reconciliation-service/internal/models"
)

// Score holds the components of a transaction/receipt score
type Score struct {
	Combined          float64
	TextScore         float64
	DateScore         float64
	VendorSimilarity  float64
	AddressSimilarity float64
	DateDifference    int
}

// DateScore is 1/(days+1): 1 on the same day and strictly decreasing as the
// gap grows. The sign of days is ignored.
func DateScore(days int) float64 {
	if days < 0 {
		days = -days
	}
	return 1.0 / float64(days+1)
}

// ScoreMatch scores a parsed transaction against a parsed receipt. The
// transaction vendor is compared with both the receipt vendor and the
// receipt address, since merchants often appear only in the address block.
func ScoreMatch(tx *models.TransactionRecord, receipt *models.ReceiptRecord) Score {
	vendorSim := Similarity(tx.Vendor, receipt.Vendor)
	addressSim := Similarity(tx.Vendor, receipt.Address)

	textScore := vendorSim
	if addressSim > textScore {
		textScore = addressSim
	}

	days := models.DaysBetween(tx.Date, receipt.Date)
	dateScore := DateScore(days)

	return Score{
		Combined:          (textScore + dateScore) / 2,
		TextScore:         textScore,
		DateScore:         dateScore,
		VendorSimilarity:  vendorSim,
		AddressSimilarity: addressSim,
		DateDifference:    days,
	}
}
