package matcher

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"receipt-reconciliation-service/internal/models"
)

// knownMatch is a transaction index and the receipt it must be paired with
type knownMatch struct {
	index     int
	receiptID string
}

// createKnownMatchDataset builds groups of receipts sharing an amount. In
// each group exactly one receipt agrees with the transaction description,
// through its vendor, its address, or a closer date when the text ties.
func createKnownMatchDataset(groups int) ([]*models.TransactionRecord, []*models.ReceiptRecord, []knownMatch) {
	vendors := []string{"Cafe Luna", "Hardware Depot", "Taxi Roma", "Book Nook", "Pharma Plus", "Garage Central"}
	addresses := []string{"Rue de Rivoli", "Via Appia", "Gran Via", "Kurfurstendamm", "Nevsky Prospekt", "Carnaby Street"}

	var transactions []*models.TransactionRecord
	var receipts []*models.ReceiptRecord
	var expected []knownMatch

	for g := 0; g < groups; g++ {
		amount := fmt.Sprintf("%d.%02d", 100+g, g%100)
		day := march1.AddDate(0, 0, g%20)
		target := g % len(vendors)

		var description string
		switch g % 3 {
		case 0:
			description = fmt.Sprintf("CB %s %04d", vendors[target], g)
		case 1:
			description = fmt.Sprintf("PAYPAL %s", addresses[target])
		default:
			description = fmt.Sprintf("CARD %s", vendors[target])
		}
		transactions = append(transactions, transaction(g, amount, day, description))

		for v := range vendors {
			id := fmt.Sprintf("g%03d-%d", g, v)
			date := day.AddDate(0, 0, 1+v%3)
			if v == target {
				date = day
			}
			if g%3 == 2 && v != target {
				// same vendor text, further away in time
				receipts = append(receipts, receipt(id, amount, day.AddDate(0, 0, 5), vendors[target], ""))
				continue
			}
			receipts = append(receipts, receipt(id, amount, date, vendors[v], addresses[v]))
		}
		expected = append(expected, knownMatch{index: g, receiptID: fmt.Sprintf("g%03d-%d", g, target)})
	}

	return transactions, receipts, expected
}

// TestAccuracyWithKnownMatches tests that every transaction lands on its
// intended receipt
func TestAccuracyWithKnownMatches(t *testing.T) {
	transactions, receipts, expected := createKnownMatchDataset(60)

	engine := newEngine(t, DefaultMatchingConfig(), receipts...)
	outcome, err := engine.Reconcile(transactions)
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}

	if len(outcome.Results) != len(expected) {
		t.Fatalf("expected %d results, got %d", len(expected), len(outcome.Results))
	}

	correct := 0
	for i, want := range expected {
		got := outcome.Results[i]
		if got.Index == want.index && got.ReceiptID == want.receiptID {
			correct++
			continue
		}
		t.Errorf("transaction #%d: expected %s, got #%d -> %s", want.index, want.receiptID, got.Index, got.ReceiptID)
	}

	t.Logf("Matching accuracy: %d/%d", correct, len(expected))
	if outcome.Stats.UnmatchedTransactions != 0 {
		t.Errorf("expected every transaction to be matched, %d were not", outcome.Stats.UnmatchedTransactions)
	}
}

// TestPerformanceWithLargeDataset exercises the parallel path on a larger workload
func TestPerformanceWithLargeDataset(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping performance test in short mode")
	}

	transactions, receipts := generateWorkload(5000)

	config := DefaultMatchingConfig()
	config.MaxWorkers = 8
	engine := newEngine(t, config, receipts...)

	startTime := time.Now()
	outcome, err := engine.Reconcile(transactions)
	reconcileTime := time.Since(startTime)
	if err != nil {
		t.Fatalf("large dataset reconciliation failed: %v", err)
	}

	t.Logf("Reconciliation time for 5k transactions and 5k receipts: %v", reconcileTime)
	t.Logf("Matched %d/%d transactions, scored %d candidates",
		outcome.Stats.MatchedTransactions, outcome.Stats.TotalTransactions, outcome.Stats.CandidatesScored)

	if outcome.Stats.MatchedTransactions != len(transactions) {
		t.Errorf("every generated transaction has a same-amount receipt, matched %d/%d",
			outcome.Stats.MatchedTransactions, len(transactions))
	}
}

// TestConcurrentReconciliation runs independent engines over the same inputs
func TestConcurrentReconciliation(t *testing.T) {
	transactions, receipts, _ := createKnownMatchDataset(30)

	reference := newEngine(t, DefaultMatchingConfig(), receipts...)
	expected, err := reference.Reconcile(transactions)
	if err != nil {
		t.Fatalf("reference run failed: %v", err)
	}

	numGoroutines := 5
	results := make(chan *MatchOutcome, numGoroutines)
	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(workers int) {
			config := DefaultMatchingConfig()
			config.MaxWorkers = workers
			engine, err := NewMatchingEngine(config)
			if err != nil {
				errs <- err
				return
			}
			engine.LoadReceipts(receipts)

			outcome, err := engine.Reconcile(transactions)
			if err != nil {
				errs <- err
				return
			}
			results <- outcome
		}(i + 1)
	}

	for i := 0; i < numGoroutines; i++ {
		select {
		case err := <-errs:
			t.Fatalf("concurrent reconciliation failed: %v", err)
		case outcome := <-results:
			if !reflect.DeepEqual(outcome.Results, expected.Results) {
				t.Error("concurrent run produced different results")
			}
		case <-time.After(30 * time.Second):
			t.Fatal("concurrent reconciliation timed out")
		}
	}
}
