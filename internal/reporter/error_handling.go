package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/afero"
)

// namedWriter is implemented by *os.File and afero.File
type namedWriter interface {
	io.Writer
	Name() string
}

// renderFunc writes one report with the given generator
type renderFunc func(generator *ReportGenerator, writer io.Writer) error

// SafeReportGenerator wraps ReportGenerator with enhanced error handling
type SafeReportGenerator struct {
	*ReportGenerator
	fs     afero.Fs
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error
// handling. Backup files are created on fs; a nil fs uses the OS filesystem.
func NewSafeReportGenerator(config *ReportConfig, fs afero.Fs, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		fs:              fs,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a reconciliation report with error handling and fallbacks
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if err := srg.validateInputs(result == nil, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}
	if result.Summary == nil {
		err := errors.ValidationError(
			errors.CodeMissingField,
			"summary",
			nil,
			nil,
		).WithSuggestion("Ensure the reconciliation result includes a summary")
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}
	if !result.HasMatches() && srg.config.Format == FormatCSV {
		srg.logger.Warn("No matches available, the result table will only contain a header")
	}

	return srg.generate("reconciliation", writer, func(generator *ReportGenerator, w io.Writer) error {
		return generator.GenerateReport(result, w)
	})
}

// GenerateSearchReportSafely generates an image search report with error handling and fallbacks
func (srg *SafeReportGenerator) GenerateSearchReportSafely(rows []*models.MatchResult, writer io.Writer) error {
	if err := srg.validateInputs(false, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	return srg.generate("search", writer, func(generator *ReportGenerator, w io.Writer) error {
		return generator.GenerateSearchReport(rows, w)
	})
}

// GenerateAuditReportSafely generates an audit report with error handling and fallbacks
func (srg *SafeReportGenerator) GenerateAuditReportSafely(report *reconciler.AuditReport, writer io.Writer) error {
	if err := srg.validateInputs(report == nil, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	return srg.generate("audit", writer, func(generator *ReportGenerator, w io.Writer) error {
		return generator.GenerateAuditReport(report, w)
	})
}

func (srg *SafeReportGenerator) generate(kind string, writer io.Writer, render renderFunc) error {
	log := srg.logger.WithFields(logger.Fields{
		"report": kind,
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	})
	log.Info("Starting report generation")

	if err := srg.generateWithFallback(writer, render); err != nil {
		log.WithError(err).Error("Report generation failed")
		return err
	}

	log.Info("Report generation completed successfully")
	return nil
}

// validateInputs validates the inputs for report generation
func (srg *SafeReportGenerator) validateInputs(missingResult bool, writer io.Writer) error {
	if missingResult {
		return errors.ValidationError(
			errors.CodeMissingField,
			"result",
			nil,
			nil,
		).WithSuggestion("Provide a valid reconciliation result")
	}

	if writer == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"writer",
			nil,
			nil,
		).WithSuggestion("Provide a valid output writer")
	}

	return nil
}

// generateWithFallback attempts to generate the report with fallback strategies
func (srg *SafeReportGenerator) generateWithFallback(writer io.Writer, render renderFunc) error {
	err := render(srg.ReportGenerator, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	// A broken output file cannot take a fallback format either
	if srg.shouldAttemptOutputFallback(err, writer) {
		return srg.generateWithOutputFallback(writer.(namedWriter), render, err)
	}

	if srg.shouldAttemptFormatFallback() {
		return srg.generateWithFormatFallback(writer, render, err)
	}

	return srg.wrapGenerationError(err)
}

// shouldAttemptFormatFallback determines if a format fallback should be attempted
func (srg *SafeReportGenerator) shouldAttemptFormatFallback() bool {
	return srg.config.Format != FormatConsole
}

// generateWithFormatFallback attempts to generate with the console format
func (srg *SafeReportGenerator) generateWithFormatFallback(writer io.Writer, render renderFunc, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "\nNOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := render(fallbackGenerator, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated successfully using format fallback")
	return nil
}

// shouldAttemptOutputFallback determines if an output fallback should be attempted
func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(namedWriter); ok && file.Name() != "" {
		return isFileError(err)
	}
	return false
}

// generateWithOutputFallback writes the report next to the original output
func (srg *SafeReportGenerator) generateWithOutputFallback(file namedWriter, render renderFunc, originalErr error) error {
	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	backupFile, err := srg.fs.Create(backupPath)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}
	defer backupFile.Close()

	if err := render(srg.ReportGenerator, backupFile); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Info("Report generated successfully using output fallback")
	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", originalPath, backupPath)

	return nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	return errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeProcessingError, "report generation failed")
}

// Utility functions

// generateBackupPath turns dir/name.ext into dir/name_backup.ext
func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case namedWriter:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
