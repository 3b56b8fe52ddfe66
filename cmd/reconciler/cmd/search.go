package cmd

import (
	"fmt"
	"io"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/locator"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var searchSettings *config.Settings

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the receipt images of an existing result table",
	Long: `Search reads a result table written by 'reconciler reconcile' and resolves
the image of every matched receipt in the images folder. Rows whose image
cannot be found are left out of the output.

Examples:
  reconciler search --results-file results.csv --images-dir images
  reconciler search --results-file results.csv --images-dir images --output-format console
  reconciler search --results-file results.csv --images-dir images --image-extensions .png,.jpg`,

	PreRunE: validateSearchFlags,
	RunE:    runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	flags := searchCmd.Flags()
	flags.String("results-file", "", "result table CSV written by reconcile (required)")
	flags.StringP("images-dir", "i", "", "folder of receipt images (required)")
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")
	flags.StringP("output-format", "f", string(reporter.FormatCSV), "output format: csv, json, console")
	flags.StringSlice("image-extensions", locator.DefaultExtensions, "image extensions probed in order")
}

func validateSearchFlags(cmd *cobra.Command, args []string) error {
	if err := bindCommandFlags(cmd); err != nil {
		return err
	}
	settings := config.LoadSettings(viper.GetViper())

	if settings.ResultsFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "results-file", "", nil).
			WithSuggestion("Pass --results-file with a result table written by 'reconciler reconcile'")
	}
	if settings.ImagesDir == "" {
		return errors.ValidationError(errors.CodeMissingField, "images-dir", "", nil).
			WithSuggestion("Pass --images-dir with the folder of receipt images")
	}

	if err := validateFileExists(settings.ResultsFile, "results file"); err != nil {
		return err
	}
	if err := validateDirExists(settings.ImagesDir, "images folder"); err != nil {
		return err
	}
	if _, err := config.CreateReportConfig(settings.OutputFormat); err != nil {
		return err
	}
	if err := validateOutputDir(settings.OutputFile); err != nil {
		return err
	}

	searchSettings = settings
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	settings := searchSettings
	if settings == nil {
		settings = config.LoadSettings(viper.GetViper())
	}

	rows, err := reporter.ReadResultFile(appFs, settings.ResultsFile)
	if err != nil {
		return err
	}

	found := locator.New(appFs, settings.ImageExtensions...).Search(rows, settings.ImagesDir)
	if len(found) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No receipt image found for the result table")
	}

	reportConfig, err := config.CreateReportConfig(settings.OutputFormat)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, appFs, nil)
	if err != nil {
		return err
	}

	err = withOutput(cmd, settings.OutputFile, func(w io.Writer) error {
		return generator.GenerateSearchReportSafely(found, w)
	})
	if err != nil {
		return err
	}

	if settings.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Resolved %d of %d receipt images.\n", len(found), len(rows))
	}

	return nil
}
