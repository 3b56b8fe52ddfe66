package matcher

import (
	"context"
	"fmt"
	"sync"

	"receipt-reconciliation-service/internal/models"
)

// ProgressFunc is called after each transaction is processed. Calls are
// serialized by the engine.
type ProgressFunc func(processed, total int)

// MatchingEngine matches bank transactions to receipts
type MatchingEngine struct {
	Config       *MatchingConfig
	ReceiptIndex *ReceiptIndex

	progress ProgressFunc
}

// MatchOutcome is the output of one matching pass
type MatchOutcome struct {
	// Results holds one row per matched transaction, in transaction order
	Results []*models.MatchResult

	// UnmatchedTransactions are parsed transactions with no candidate receipt
	UnmatchedTransactions []*models.TransactionRecord

	Stats MatchStats
}

// MatchStats summarizes a matching pass
type MatchStats struct {
	TotalTransactions     int `json:"total_transactions"`
	SkippedTransactions   int `json:"skipped_transactions"`
	MatchedTransactions   int `json:"matched_transactions"`
	UnmatchedTransactions int `json:"unmatched_transactions"`
	CandidatesScored      int `json:"candidates_scored"`
	DuplicatesRemoved     int `json:"duplicates_removed"`
	SharedReceipts        int `json:"shared_receipts"`
}

// NewMatchingEngine creates an engine. A nil config selects the default.
func NewMatchingEngine(config *MatchingConfig) (*MatchingEngine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}

	return &MatchingEngine{
		Config: config.Clone(),
	}, nil
}

// LoadReceipts indexes the receipts. Unmatchable receipts are kept out of
// the index.
func (me *MatchingEngine) LoadReceipts(receipts []*models.ReceiptRecord) {
	me.ReceiptIndex = NewReceiptIndex(receipts, me.Config)
}

// SetProgressFunc registers a progress callback
func (me *MatchingEngine) SetProgressFunc(fn ProgressFunc) {
	me.progress = fn
}

// Candidates returns the receipts eligible for a transaction, in load order
func (me *MatchingEngine) Candidates(tx *models.TransactionRecord) []*models.ReceiptRecord {
	if me.ReceiptIndex == nil || tx == nil || !tx.Matchable() {
		return nil
	}
	return me.ReceiptIndex.Candidates(tx.Amount)
}

// FindBestMatch returns the highest scoring candidate for tx, or nil when
// there is none. Only a strictly greater score replaces the current best,
// so the earliest loaded receipt wins a tie.
func (me *MatchingEngine) FindBestMatch(tx *models.TransactionRecord) *models.MatchResult {
	result, _ := me.bestMatch(tx)
	return result
}

func (me *MatchingEngine) bestMatch(tx *models.TransactionRecord) (*models.MatchResult, int) {
	candidates := me.Candidates(tx)
	if len(candidates) == 0 {
		return nil, 0
	}

	var best *models.ReceiptRecord
	var bestScore Score
	for _, receipt := range candidates {
		score := ScoreMatch(tx, receipt)
		if best == nil || score.Combined > bestScore.Combined {
			best = receipt
			bestScore = score
		}
	}

	return &models.MatchResult{
		SourceFile:        tx.SourceFile,
		ReceiptID:         best.ID,
		Index:             tx.Index,
		CombinedScore:     bestScore.Combined,
		VendorSimilarity:  bestScore.VendorSimilarity,
		AddressSimilarity: bestScore.AddressSimilarity,
		DateDifference:    bestScore.DateDifference,
		Date:              tx.Date,
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		Vendor:            tx.Vendor,
	}, len(candidates)
}

// Reconcile matches every transaction against the loaded receipts
func (me *MatchingEngine) Reconcile(transactions []*models.TransactionRecord) (*MatchOutcome, error) {
	return me.ReconcileContext(context.Background(), transactions)
}

type slot struct {
	result     *models.MatchResult
	candidates int
}

// ReconcileContext matches every transaction against the loaded receipts.
// Transactions are visited in input order and skipped ones produce no row.
// With MaxWorkers > 1 scoring runs concurrently, but results are assembled
// by input position so the output is identical to a sequential run.
func (me *MatchingEngine) ReconcileContext(ctx context.Context, transactions []*models.TransactionRecord) (*MatchOutcome, error) {
	if me.ReceiptIndex == nil {
		return nil, fmt.Errorf("receipts must be loaded before reconciliation")
	}

	slots := make([]slot, len(transactions))
	var err error
	if me.Config.MaxWorkers > 1 && len(transactions) > 1 {
		err = me.scoreConcurrently(ctx, transactions, slots)
	} else {
		err = me.scoreSequentially(ctx, transactions, slots)
	}
	if err != nil {
		return nil, err
	}

	outcome := &MatchOutcome{}
	outcome.Stats.TotalTransactions = len(transactions)

	var matched []*models.MatchResult
	for i, tx := range transactions {
		if tx == nil || !tx.Matchable() {
			outcome.Stats.SkippedTransactions++
			continue
		}
		outcome.Stats.CandidatesScored += slots[i].candidates
		if slots[i].result == nil {
			outcome.UnmatchedTransactions = append(outcome.UnmatchedTransactions, tx)
			continue
		}
		matched = append(matched, slots[i].result)
	}

	outcome.Results = Deduplicate(matched)
	outcome.Stats.DuplicatesRemoved = len(matched) - len(outcome.Results)
	outcome.Stats.MatchedTransactions = len(outcome.Results)
	outcome.Stats.UnmatchedTransactions = len(outcome.UnmatchedTransactions)
	outcome.Stats.SharedReceipts = len(SharedReceipts(outcome.Results))

	return outcome, nil
}

func (me *MatchingEngine) scoreSequentially(ctx context.Context, transactions []*models.TransactionRecord, slots []slot) error {
	for i, tx := range transactions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("matching cancelled after %d of %d transactions: %w", i, len(transactions), err)
		}
		slots[i].result, slots[i].candidates = me.bestMatch(tx)
		if me.progress != nil {
			me.progress(i+1, len(transactions))
		}
	}
	return nil
}

func (me *MatchingEngine) scoreConcurrently(ctx context.Context, transactions []*models.TransactionRecord, slots []slot) error {
	workers := me.Config.MaxWorkers
	if workers > len(transactions) {
		workers = len(transactions)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var progressMutex sync.Mutex
	processed := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				slots[i].result, slots[i].candidates = me.bestMatch(transactions[i])

				if me.progress != nil {
					progressMutex.Lock()
					processed++
					me.progress(processed, len(transactions))
					progressMutex.Unlock()
				}
			}
		}()
	}

	var cancelErr error
	for i := range transactions {
		if err := ctx.Err(); err != nil {
			cancelErr = fmt.Errorf("matching cancelled after %d of %d transactions: %w", i, len(transactions), err)
			break
		}
		select {
		case <-ctx.Done():
			cancelErr = fmt.Errorf("matching cancelled after %d of %d transactions: %w", i, len(transactions), ctx.Err())
		case jobs <- i:
		}
		if cancelErr != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	return cancelErr
}
