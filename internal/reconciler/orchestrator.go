// Package reconciler provides high-level orchestration for the reconciliation process.
//
// This package coordinates the reconciliation workflow:
//   - Loading bank statement CSV folders and receipt JSON folders
//   - Normalizing records and applying an optional date range
//   - Matching transactions to receipts
//   - Locating receipt images for matched rows
//   - Auditing a result table against the receipt documents
//
// The ReconciliationOrchestrator wraps a ReconciliationService with progress
// callbacks for interactive front ends.
//
// Example usage:
//
//	service, err := reconciler.NewReconciliationService(afero.NewOsFs(), reconciler.DefaultConfig())
//	orchestrator, err := reconciler.NewReconciliationOrchestrator(service)
//	orchestrator.AddProgressCallback(func(progress *reconciler.ReconciliationProgress) {
//		fmt.Printf("%s (%d/%d)\n", progress.CurrentStep, progress.CompletedSteps, progress.TotalSteps)
//	})
//
//	result, err := orchestrator.ProcessReconciliation(ctx, &reconciler.ReconciliationRequest{
//		StatementsDir: "statements",
//		ReceiptsDir:   "receipts",
//		ImagesDir:     "images",
//	})
package reconciler

import (
	"context"
	"sync"
	"time"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// ReconciliationOrchestrator runs a ReconciliationService and reports the
// progress of each run to registered callbacks.
type ReconciliationOrchestrator struct {
	service *ReconciliationService
	logger  logger.Logger

	// Progress tracking
	progressCallbacks []ProgressCallback
	currentProgress   *ReconciliationProgress
	progressMutex     sync.RWMutex
	tracker           *logger.ProgressTracker
}

// ReconciliationProgress tracks the progress of reconciliation operations
type ReconciliationProgress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`

	// Matching progress
	TransactionsProcessed int `json:"transactions_processed"`
	TotalTransactions     int `json:"total_transactions"`
	MatchesFound          int `json:"matches_found"`
}

// ProgressCallback is called to report reconciliation progress. It receives
// a snapshot that the callback may keep.
type ProgressCallback func(*ReconciliationProgress)

// StepCompleted is the step name reported once a run finishes
const StepCompleted = "Completed"

// NewReconciliationOrchestrator creates a new reconciliation orchestrator
func NewReconciliationOrchestrator(service *ReconciliationService) (*ReconciliationOrchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(
			errors.CodeMissingField,
			"reconciliation_service",
			nil,
			nil,
		).WithSuggestion("Provide a valid ReconciliationService instance")
	}

	log := logger.GetGlobalLogger().WithComponent("reconciliation_orchestrator")
	log.Debug("Creating reconciliation orchestrator")

	return &ReconciliationOrchestrator{
		service: service,
		logger:  log,
		currentProgress: &ReconciliationProgress{
			TotalSteps: len(PipelineStages),
		},
	}, nil
}

// AddProgressCallback adds a progress callback function
func (ro *ReconciliationOrchestrator) AddProgressCallback(callback ProgressCallback) {
	ro.progressMutex.Lock()
	defer ro.progressMutex.Unlock()

	ro.progressCallbacks = append(ro.progressCallbacks, callback)
}

// Progress returns a snapshot of the current progress
func (ro *ReconciliationOrchestrator) Progress() ReconciliationProgress {
	ro.progressMutex.RLock()
	defer ro.progressMutex.RUnlock()

	return *ro.currentProgress
}

// ProcessReconciliation runs the pipeline and reports progress. A run that
// completes reports StepCompleted with every step done.
func (ro *ReconciliationOrchestrator) ProcessReconciliation(
	ctx context.Context,
	request *ReconciliationRequest,
) (*ReconciliationResult, error) {

	ro.initializeProgress()
	operation := logger.NewOperationLogger("reconciliation", ro.logger)

	result, err := ro.service.run(ctx, request, ro)
	if ro.tracker != nil {
		if err != nil {
			ro.tracker.CompleteWithError(err)
		} else {
			ro.tracker.Complete()
		}
	}
	if err != nil {
		operation.Error(err, "Reconciliation failed")
		return nil, err
	}

	ro.updateProgress(StepCompleted, len(PipelineStages))
	operation.WithField("run_id", result.RunID).Success("Reconciliation completed")

	return result, nil
}

func (ro *ReconciliationOrchestrator) initializeProgress() {
	ro.progressMutex.Lock()
	defer ro.progressMutex.Unlock()

	ro.currentProgress = &ReconciliationProgress{
		TotalSteps: len(PipelineStages),
		StartTime:  time.Now(),
	}
	ro.tracker = nil
}

func (ro *ReconciliationOrchestrator) updateProgress(step string, completed int) {
	ro.progressMutex.Lock()
	ro.currentProgress.CurrentStep = step
	ro.currentProgress.CompletedSteps = completed
	ro.currentProgress.ElapsedTime = time.Since(ro.currentProgress.StartTime)
	ro.currentProgress.PercentComplete = float64(completed) / float64(ro.currentProgress.TotalSteps) * 100
	ro.progressMutex.Unlock()

	ro.notify()
}

// notify sends a snapshot to every callback outside the lock
func (ro *ReconciliationOrchestrator) notify() {
	ro.progressMutex.RLock()
	snapshot := *ro.currentProgress
	callbacks := append([]ProgressCallback(nil), ro.progressCallbacks...)
	ro.progressMutex.RUnlock()

	for _, callback := range callbacks {
		progress := snapshot
		callback(&progress)
	}
}

func (ro *ReconciliationOrchestrator) stageStarted(stage Stage, completed int) {
	ro.logger.WithField("step", string(stage)).Debug("Reconciliation step")
	ro.updateProgress(string(stage), completed)
}

func (ro *ReconciliationOrchestrator) transactionsProcessed(processed, total int) {
	ro.progressMutex.Lock()
	if ro.tracker == nil {
		ro.tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "match_transactions",
			Total:     int64(total),
			Logger:    ro.logger,
		})
	}
	tracker := ro.tracker
	ro.currentProgress.TransactionsProcessed = processed
	ro.currentProgress.TotalTransactions = total
	ro.currentProgress.ElapsedTime = time.Since(ro.currentProgress.StartTime)
	ro.progressMutex.Unlock()

	tracker.Update(int64(processed))
	ro.notify()
}

func (ro *ReconciliationOrchestrator) matchesFound(count int) {
	ro.progressMutex.Lock()
	ro.currentProgress.MatchesFound = count
	ro.progressMutex.Unlock()
}
