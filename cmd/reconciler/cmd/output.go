package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// commandContext returns the command context, cancelled on interrupt
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}

func validateDirExists(path, description string) error {
	info, err := appFs.Stat(path)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, path, err).
			WithSuggestion(fmt.Sprintf("Check the %s path", description))
	}
	if err != nil {
		return errors.FileError(errors.CodeDirectoryError, path, err)
	}
	if !info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, path, fmt.Errorf("%s is not a directory", description))
	}
	return nil
}

func validateFileExists(path, description string) error {
	info, err := appFs.Stat(path)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, path, err).
			WithSuggestion(fmt.Sprintf("Check the %s path", description))
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeFileNotFound, path, fmt.Errorf("%s is a directory, expected a file", description)).
			WithSuggestion(fmt.Sprintf("Pass the %s itself, not its folder", description))
	}
	return nil
}

// validateOutputDir checks that the output file can be created
func validateOutputDir(outputFile string) error {
	if outputFile == "" {
		return nil
	}
	dir := filepath.Dir(outputFile)
	if dir == "." {
		return nil
	}
	if exists, _ := afero.DirExists(appFs, dir); !exists {
		return errors.FileError(errors.CodeDirectoryError, dir, fmt.Errorf("output directory does not exist")).
			WithSuggestion("Create the output directory first")
	}
	return nil
}

// withOutput runs write against the output file, or stdout when no file is
// set. The file is only created once there is something to write.
func withOutput(cmd *cobra.Command, outputFile string, write func(io.Writer) error) error {
	if outputFile == "" {
		return write(cmd.OutOrStdout())
	}

	file, err := appFs.Create(outputFile)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, outputFile, err)
	}

	if err := write(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFilePermission, outputFile, err)
	}
	return nil
}

// stageProgress renders orchestrator progress as a progress bar
type stageProgress struct {
	bar    *progressbar.ProgressBar
	writer io.Writer
}

func newStageProgress(writer io.Writer, stages int) *stageProgress {
	bar := progressbar.NewOptions(stages,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("Reconciling"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(writer)
		}),
	)
	return &stageProgress{bar: bar, writer: writer}
}

func (s *stageProgress) update(progress *reconciler.ReconciliationProgress) {
	description := progress.CurrentStep
	if progress.CurrentStep == string(reconciler.StageMatch) && progress.TotalTransactions > 0 {
		description = fmt.Sprintf("%s (%d/%d)", progress.CurrentStep, progress.TransactionsProcessed, progress.TotalTransactions)
	}
	s.bar.Describe(description)
	_ = s.bar.Set(progress.CompletedSteps)
}

// abort ends the bar line after a failed run
func (s *stageProgress) abort() {
	if !s.bar.IsFinished() {
		fmt.Fprintln(s.writer)
	}
}
