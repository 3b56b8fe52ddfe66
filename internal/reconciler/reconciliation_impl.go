package reconciler

import (
	"context"
	"sort"
	"time"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stage names one step of the reconciliation pipeline
type Stage string

const (
	StageValidate       Stage = "Validating request"
	StageLoadStatements Stage = "Loading bank statements"
	StageLoadReceipts   Stage = "Loading receipts"
	StagePreprocess     Stage = "Preprocessing records"
	StageMatch          Stage = "Matching transactions"
	StageAnnotate       Stage = "Locating receipt images"
	StageSummarize      Stage = "Building results"
)

// PipelineStages lists the stages in execution order
var PipelineStages = []Stage{
	StageValidate,
	StageLoadStatements,
	StageLoadReceipts,
	StagePreprocess,
	StageMatch,
	StageAnnotate,
	StageSummarize,
}

// pipelineObserver is notified as a run advances
type pipelineObserver interface {
	stageStarted(stage Stage, completed int)
	transactionsProcessed(processed, total int)
	matchesFound(count int)
}

type noopObserver struct{}

func (noopObserver) stageStarted(Stage, int)        {}
func (noopObserver) transactionsProcessed(int, int) {}
func (noopObserver) matchesFound(int)               {}

// run executes the pipeline, reporting to observer
func (rs *ReconciliationService) run(
	ctx context.Context,
	request *ReconciliationRequest,
	observer pipelineObserver,
) (*ReconciliationResult, error) {

	if observer == nil {
		observer = noopObserver{}
	}

	// Step 1: Validate request
	observer.stageStarted(StageValidate, 0)
	if request == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliation_request", nil, nil)
	}
	if err := request.Validate(); err != nil {
		return nil, errors.ValidationError(
			errors.CodeInvalidConfig,
			"reconciliation_request",
			request,
			err,
		).WithSuggestion("Check the statements and receipts directories and the date range")
	}

	preprocessingConfig := rs.preprocessingConfig(request)
	if err := preprocessingConfig.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "date_range", nil, err)
	}

	startTime := time.Now()
	result := &ReconciliationResult{
		RunID:           uuid.NewString(),
		ProcessedAt:     startTime,
		Request:         request,
		Summary:         &ResultSummary{},
		ProcessingStats: &ProcessingStats{},
	}
	if preprocessingConfig.StartDate != nil || preprocessingConfig.EndDate != nil {
		result.Summary.DateRange = &DateRange{
			Start: preprocessingConfig.StartDate,
			End:   preprocessingConfig.EndDate,
		}
	}

	log := rs.logger.WithField("run_id", result.RunID)
	log.WithFields(logger.Fields{
		"statements_dir": request.StatementsDir,
		"receipts_dir":   request.ReceiptsDir,
		"images_dir":     request.ImagesDir,
	}).Info("Starting reconciliation")

	// Step 2: Load bank statements
	observer.stageStarted(StageLoadStatements, 1)
	parsingStart := time.Now()
	statements, err := rs.statementParser.LoadStatementFolder(ctx, request.StatementsDir)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeLoadFailed,
			"failed to load bank statements")
	}

	// Step 3: Load receipts
	observer.stageStarted(StageLoadReceipts, 2)
	receipts, receiptStats, err := rs.receiptLoader.LoadReceiptFolder(ctx, request.ReceiptsDir)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeLoadFailed,
			"failed to load receipts")
	}
	result.ProcessingStats.ParsingTime = time.Since(parsingStart)

	// Step 4: Normalize records and apply the date range
	observer.stageStarted(StagePreprocess, 3)
	preprocessingStart := time.Now()
	preprocessor := NewDataPreprocessor(preprocessingConfig)
	transactions := preprocessor.PreprocessTransactions(statements.Transactions)
	receipts = preprocessor.PreprocessReceipts(receipts)
	result.ProcessingStats.PreprocessingTime = time.Since(preprocessingStart)
	result.ProcessingStats.FieldsNormalized = preprocessor.GetStatistics().FieldsNormalized

	// Step 5: Match
	observer.stageStarted(StageMatch, 4)
	matchingStart := time.Now()
	outcome, err := rs.match(ctx, transactions, receipts, observer.transactionsProcessed)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ReconciliationError(errors.CodeCancelled, "match_transactions", err)
		}
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeMatchingFailed,
			"failed to match transactions")
	}
	result.ProcessingStats.MatchingTime = time.Since(matchingStart)
	observer.matchesFound(len(outcome.Results))

	// Step 6: Annotate matched rows with receipt images
	observer.stageStarted(StageAnnotate, 5)
	annotationStart := time.Now()
	matches := outcome.Results
	resolved := 0
	if request.ImagesDir != "" {
		matches, resolved = rs.locator.Annotate(matches, request.ImagesDir)
	}
	result.ProcessingStats.AnnotationTime = time.Since(annotationStart)

	// Step 7: Build final result
	observer.stageStarted(StageSummarize, 6)
	result.Matches = matches
	rs.buildFinalResult(result, statements, receiptStats, transactions, outcome, resolved)

	result.Summary.ProcessingDuration = time.Since(startTime)
	result.ProcessingStats.TotalProcessingTime = result.Summary.ProcessingDuration
	if seconds := result.ProcessingStats.TotalProcessingTime.Seconds(); seconds > 0 {
		result.ProcessingStats.RecordsPerSecond = float64(result.Summary.TotalTransactions) / seconds
	}

	log.WithFields(logger.Fields{
		"transactions": result.Summary.TotalTransactions,
		"matched":      result.Summary.MatchedTransactions,
		"unmatched":    result.Summary.UnmatchedTransactions,
		"duration":     result.Summary.ProcessingDuration.String(),
	}).Info("Reconciliation completed")

	return result, nil
}

// preprocessingConfig applies the request's date range on top of the
// configured one. Request bounds win when set.
func (rs *ReconciliationService) preprocessingConfig(request *ReconciliationRequest) *PreprocessingConfig {
	start := rs.config.Preprocessing.StartDate
	if request.StartDate != nil {
		start = request.StartDate
	}
	end := rs.config.Preprocessing.EndDate
	if request.EndDate != nil {
		end = request.EndDate
	}
	return rs.config.Preprocessing.WithDateRange(start, end)
}

// match runs one matching pass on a fresh engine, so concurrent runs of
// the same service never share an index
func (rs *ReconciliationService) match(
	ctx context.Context,
	transactions []*models.TransactionRecord,
	receipts []*models.ReceiptRecord,
	progress matcher.ProgressFunc,
) (*matcher.MatchOutcome, error) {

	engine, err := matcher.NewMatchingEngine(rs.config.Matching)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", rs.config.Matching.String(), err)
	}
	engine.LoadReceipts(receipts)
	engine.SetProgressFunc(progress)

	var outcome *matcher.MatchOutcome
	err = logger.TimedOperation("match_transactions", rs.logger, func() error {
		var matchErr error
		outcome, matchErr = engine.ReconcileContext(ctx, transactions)
		return matchErr
	})
	return outcome, err
}

// buildFinalResult fills the summary, statistics and samples of result
func (rs *ReconciliationService) buildFinalResult(
	result *ReconciliationResult,
	statements *parsers.StatementSet,
	receiptStats *parsers.ReceiptLoadStats,
	transactions []*models.TransactionRecord,
	outcome *matcher.MatchOutcome,
	imagesResolved int,
) {
	summary := result.Summary

	summary.StatementFiles = len(statements.Files)
	summary.TotalTransactions = len(transactions)
	for _, tx := range transactions {
		switch tx.Skip {
		case models.SkipNone:
		case models.SkipOutOfRange:
			summary.OutOfRangeTransactions++
		default:
			summary.SkippedTransactions++
		}
	}

	summary.TransactionSkipReasons = statements.Stats.Skips.ByReason()
	if summary.OutOfRangeTransactions > 0 {
		summary.TransactionSkipReasons[string(models.SkipOutOfRange)] = summary.OutOfRangeTransactions
	}

	summary.ReceiptFiles = receiptStats.FilesFound
	summary.LoadedReceipts = receiptStats.Loaded
	summary.SkippedReceipts = receiptStats.Skipped()
	summary.ReceiptSkipReasons = receiptStats.Skips.ByReason()

	summary.MatchedTransactions = len(result.Matches)
	summary.UnmatchedTransactions = len(outcome.UnmatchedTransactions)
	summary.ImagesResolved = imagesResolved

	if eligible := summary.MatchedTransactions + summary.UnmatchedTransactions; eligible > 0 {
		summary.MatchRate = float64(summary.MatchedTransactions) / float64(eligible)
	}

	summary.MatchedAmount = decimal.Zero
	totalScore := 0.0
	for _, match := range result.Matches {
		totalScore += match.CombinedScore
		summary.MatchedAmount = summary.MatchedAmount.Add(match.Amount)
	}
	if len(result.Matches) > 0 {
		summary.AverageScore = totalScore / float64(len(result.Matches))
	}

	shared := matcher.SharedReceipts(result.Matches)
	summary.SharedReceipts = len(shared)
	if len(shared) > 0 {
		result.SharedReceipts = make(map[string]int, len(shared))
		for id, rows := range shared {
			result.SharedReceipts[id] = len(rows)
		}
	}

	if rs.config.IncludeUnmatched {
		result.UnmatchedTransactions = outcome.UnmatchedTransactions
	}

	result.StatementFiles = statements.Files
	result.SkippedTransactions = statements.Stats.Skips.Notices()
	result.SkippedReceipts = receiptStats.Skips.Notices()

	result.ProcessingStats.CandidatesScored = outcome.Stats.CandidatesScored
	result.ProcessingStats.DuplicatesRemoved = outcome.Stats.DuplicatesRemoved
}

// SharedReceiptIDs returns the ids of receipts backing more than one
// transaction, sorted
func (r *ReconciliationResult) SharedReceiptIDs() []string {
	ids := make([]string, 0, len(r.SharedReceipts))
	for id := range r.SharedReceipts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
