package cmd

import (
	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// effectiveConfig is what the config command prints
type effectiveConfig struct {
	ConfigFile string             `yaml:"config-file,omitempty"`
	Settings   *config.Settings   `yaml:"settings"`
	Reconciler *reconciler.Config `yaml:"reconciler"`
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Config prints the settings resolved from defaults, the config file, .env and
RECONCILER_* environment variables, followed by the reconciliation service
configuration they produce. The settings block can be saved and passed back
with --config.

Examples:
  reconciler config
  reconciler config --config reconciler.yaml
  RECONCILER_AMOUNT_MODE=tolerance reconciler config`,

	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	settings := config.LoadSettings(viper.GetViper())

	reconcilerConfig, err := config.CreateReconcilerConfig(settings)
	if err != nil {
		return err
	}

	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	defer encoder.Close()

	err = encoder.Encode(&effectiveConfig{
		ConfigFile: viper.ConfigFileUsed(),
		Settings:   settings,
		Reconciler: reconcilerConfig,
	})
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode_config", err)
	}

	return nil
}
