package cmd

import (
	"fmt"
	"os"
	"strings"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// configErr is set by initConfig and reported by the first command hook
	configErr error

	// appFs is the filesystem every command reads from and writes to
	appFs afero.Fs = afero.NewOsFs()

	dotEnvFile = ".env"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Receipt reconciliation tool",
	Long: `Reconciler matches bank statement transactions with receipt documents
extracted from receipt images. Candidates are selected by amount and scored
by vendor and address text similarity and by date proximity.

Settings are read from flags, RECONCILER_* environment variables, a .env file
in the working directory, and an optional config file.

Examples:
  reconciler reconcile --statements-dir statements --receipts-dir receipts
  reconciler reconcile --statements-dir st --receipts-dir rc --images-dir img --output-file results.csv
  reconciler search --results-file results.csv --images-dir img
  reconciler audit --results-file results.csv --receipts-dir receipts
  reconciler config`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: configureLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in the .env file, the config file and ENV variables.
func initConfig() {
	if err := loadDotEnv(appFs, dotEnvFile); err != nil {
		configErr = errors.ConfigurationError(errors.CodeInvalidConfig, "env-file", dotEnvFile, err).
			WithSuggestion("Fix the syntax of the .env file or remove it")
		return
	}

	if cfgFile != "" {
		viper.SetFs(appFs)
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			configErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check the config file path and syntax")
			return
		}
	}

	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// loadDotEnv exports the variables of a .env file without overriding the
// environment. A missing file is not an error.
func loadDotEnv(fs afero.Fs, path string) error {
	file, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	values, err := godotenv.Parse(file)
	if err != nil {
		return err
	}
	for key, value := range values {
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// configureLogging runs before every command
func configureLogging(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}

	level := viper.GetString("log.level")
	if viper.GetBool("verbose") && !cmd.Flags().Changed("log-level") {
		level = "debug"
	}

	if err := logger.Configure(level, viper.GetString("log.format")); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", level, err).
			WithSuggestion("Use --log-level debug|info|warn|error and --log-format text|json")
	}

	if viper.ConfigFileUsed() != "" {
		logger.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}

	return nil
}

// bindCommandFlags binds the flags of the running command to viper. Several
// commands share flag names, so binding happens when a command runs rather
// than at init time.
func bindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "bind_flags", err)
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
