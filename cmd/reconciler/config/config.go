package config

import (
	"fmt"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/locator"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Settings is the effective CLI configuration after flags, environment,
// .env and config file have been merged by viper
type Settings struct {
	StatementsDir   string `yaml:"statements-dir" json:"statements-dir"`
	ReceiptsDir     string `yaml:"receipts-dir" json:"receipts-dir"`
	ImagesDir       string `yaml:"images-dir" json:"images-dir"`
	ResultsFile     string `yaml:"results-file" json:"results-file"`
	OutputFile      string `yaml:"output-file" json:"output-file"`
	OutputFormat    string `yaml:"output-format" json:"output-format"`
	StatementFormat string `yaml:"statement-format" json:"statement-format"`

	AmountMode         string   `yaml:"amount-mode" json:"amount-mode"`
	AmountTolerance    float64  `yaml:"amount-tolerance" json:"amount-tolerance"`
	AbsoluteAmounts    bool     `yaml:"absolute-amounts" json:"absolute-amounts"`
	Workers            int      `yaml:"workers" json:"workers"`
	MaxConcurrentFiles int      `yaml:"max-concurrent-files" json:"max-concurrent-files"`
	ImageExtensions    []string `yaml:"image-extensions" json:"image-extensions"`

	StartDate string `yaml:"start-date" json:"start-date"`
	EndDate   string `yaml:"end-date" json:"end-date"`

	Progress bool        `yaml:"progress" json:"progress"`
	Verbose  bool        `yaml:"verbose" json:"verbose"`
	Log      LogSettings `yaml:"log" json:"log"`
}

// LogSettings configures the global logger
type LogSettings struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// SetDefaults registers the default value of every setting on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output-format", string(reporter.FormatCSV))
	v.SetDefault("statement-format", parsers.StandardStatementFormat.Name)
	v.SetDefault("amount-mode", string(matcher.AmountExact))
	v.SetDefault("amount-tolerance", matcher.DefaultAmountTolerance.InexactFloat64())
	v.SetDefault("workers", 1)
	v.SetDefault("max-concurrent-files", parsers.StandardStatementFormat.MaxConcurrentFiles)
	v.SetDefault("image-extensions", locator.DefaultExtensions)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadSettings reads the settings from v
func LoadSettings(v *viper.Viper) *Settings {
	return &Settings{
		StatementsDir:      v.GetString("statements-dir"),
		ReceiptsDir:        v.GetString("receipts-dir"),
		ImagesDir:          v.GetString("images-dir"),
		ResultsFile:        v.GetString("results-file"),
		OutputFile:         v.GetString("output-file"),
		OutputFormat:       strings.ToLower(v.GetString("output-format")),
		StatementFormat:    v.GetString("statement-format"),
		AmountMode:         v.GetString("amount-mode"),
		AmountTolerance:    v.GetFloat64("amount-tolerance"),
		AbsoluteAmounts:    v.GetBool("absolute-amounts"),
		Workers:            v.GetInt("workers"),
		MaxConcurrentFiles: v.GetInt("max-concurrent-files"),
		ImageExtensions:    v.GetStringSlice("image-extensions"),
		StartDate:          v.GetString("start-date"),
		EndDate:            v.GetString("end-date"),
		Progress:           v.GetBool("progress"),
		Verbose:            v.GetBool("verbose"),
		Log: LogSettings{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}

// DateRange parses the optional start and end dates (YYYY-MM-DD). Both
// bounds are inclusive.
func (s *Settings) DateRange() (*time.Time, *time.Time, error) {
	start, err := parseOptionalDate("start-date", s.StartDate)
	if err != nil {
		return nil, nil, err
	}
	end, err := parseOptionalDate("end-date", s.EndDate)
	if err != nil {
		return nil, nil, err
	}

	if start != nil && end != nil && start.After(*end) {
		return nil, nil, errors.ValidationError(
			errors.CodeOutOfRange,
			"start-date",
			s.StartDate,
			fmt.Errorf("start date %s is after end date %s", s.StartDate, s.EndDate),
		).WithSuggestion("Use a start date on or before the end date")
	}

	return start, end, nil
}

func parseOptionalDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, field, value, err)
	}
	return &t, nil
}

// CreateStatementParserConfig creates the statement parser configuration
// for the named layout
func CreateStatementParserConfig(settings *Settings) (*parsers.StatementParserConfig, error) {
	config := parsers.GetStatementFormat(settings.StatementFormat)
	if config == nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"statement-format",
			settings.StatementFormat,
			fmt.Errorf("unknown statement format"),
		).WithSuggestion(fmt.Sprintf("Use one of: %s", strings.Join(parsers.ListStatementFormats(), ", ")))
	}

	if settings.MaxConcurrentFiles > 0 {
		config.MaxConcurrentFiles = settings.MaxConcurrentFiles
	}

	return config, nil
}

// CreateReceiptLoaderConfig creates the receipt loader configuration
func CreateReceiptLoaderConfig(settings *Settings) *parsers.ReceiptLoaderConfig {
	config := parsers.DefaultReceiptLoaderConfig()

	if settings.MaxConcurrentFiles > 0 {
		config.MaxConcurrentFiles = settings.MaxConcurrentFiles
	}

	return config
}

// CreateMatchingConfig creates a matching configuration from the amount
// mode, tolerance and worker settings
func CreateMatchingConfig(settings *Settings) (*matcher.MatchingConfig, error) {
	mode, err := matcher.ParseAmountMode(settings.AmountMode)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "amount-mode", settings.AmountMode, err).
			WithSuggestion("Use --amount-mode exact or --amount-mode tolerance")
	}

	config := matcher.DefaultMatchingConfig()
	config.AmountMode = mode
	config.CompareAbsoluteAmounts = settings.AbsoluteAmounts
	config.MaxWorkers = settings.Workers

	if settings.AmountTolerance != 0 {
		config.AmountTolerance = decimal.NewFromFloat(settings.AmountTolerance)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err)
	}

	return config, nil
}

// CreateReconcilerConfig assembles the reconciliation service configuration
func CreateReconcilerConfig(settings *Settings) (*reconciler.Config, error) {
	statements, err := CreateStatementParserConfig(settings)
	if err != nil {
		return nil, err
	}

	matching, err := CreateMatchingConfig(settings)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Statements = statements
	config.Receipts = CreateReceiptLoaderConfig(settings)
	config.Matching = matching

	if len(settings.ImageExtensions) > 0 {
		config.ImageExtensions = append([]string(nil), settings.ImageExtensions...)
	}

	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))

	if !config.Format.IsValid() {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"output-format",
			format,
			fmt.Errorf("unsupported output format"),
		).WithSuggestion("Use --output-format csv, json or console")
	}

	return config, nil
}

// ValidateConfig validates the assembled service and report configurations
func ValidateConfig(reconcilerConfig *reconciler.Config, reportConfig *reporter.ReportConfig) error {
	if reconcilerConfig == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "reconciler", nil, nil)
	}
	if err := reconcilerConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}

	if reportConfig == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "report", nil, nil)
	}
	if err := reportConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "report", reportConfig.Format, err)
	}

	return nil
}
