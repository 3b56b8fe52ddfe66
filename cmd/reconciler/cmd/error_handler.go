package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// maxSimilarFiles bounds the "did you mean" list of a missing file
const maxSimilarFiles = 3

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	out     io.Writer
	fs      afero.Fs
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer) *CLIErrorHandler {
	if out == nil {
		out = os.Stderr
	}
	return &CLIErrorHandler{
		out:     out,
		fs:      appFs,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range err.ContextKeys() {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Code == errors.CodeFileNotFound {
		if path, ok := err.Context["file_path"].(string); ok {
			if similar := h.similarFiles(path); len(similar) > 0 {
				fmt.Fprintf(h.out, "\nSimilar files found:\n")
				for _, name := range similar {
					fmt.Fprintf(h.out, "  - %s\n", name)
				}
			}
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case h.isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the path is correct and the file exists\n")
		return 2

	case h.isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2

	case h.isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// Flag parsing and unknown commands end up here
	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the statements, receipts and images folders exist
• Statement folders need *.csv files, receipt folders need *.json files
• Ensure you have permission to read the inputs and write the output file`

	case errors.CategoryParse:
		return `Parse error help:
• Statements must be CSV files with a header row
• Check --statement-format matches the statement layout (delimiter and column names)
• Result tables must come from 'reconciler reconcile' and keep the csv_file, json_file and index columns`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required flags have values
• Dates use YYYY-MM-DD
• Amounts are decimal numbers without currency symbols`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and RECONCILER_* environment variables
• Verify the config file syntax if using --config
• Run 'reconciler config' to print the effective configuration`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Receipts match only transactions with the same amount; try --amount-mode tolerance
• Debits stored as negative amounts need --absolute-amounts
• Run 'reconciler audit' on a result table to review suspicious rows`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help
• Run again with --verbose for the underlying error`
	}
}

// similarFiles lists entries next to a missing path that share its prefix
func (h *CLIErrorHandler) similarFiles(path string) []string {
	base := strings.ToLower(filepath.Base(path))
	if len(base) > 3 {
		base = base[:3]
	}

	entries, err := afero.ReadDir(h.fs, filepath.Dir(path))
	if err != nil {
		return nil
	}

	var similar []string
	for _, entry := range entries {
		if strings.HasPrefix(strings.ToLower(entry.Name()), base) {
			similar = append(similar, entry.Name())
			if len(similar) == maxSimilarFiles {
				break
			}
		}
	}
	return similar
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
