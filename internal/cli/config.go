package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/keyward/internal/config"
	"github.com/mrz1836/keyward/internal/output"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and initialize the keyward configuration file.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.keyward/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.

Example:
  keyward config init
  keyward config init --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after environment overrides, with secrets masked.

Example:
  keyward config show
  keyward config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath := config.Path(cfg.GetHome())

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return kwerr.WithSuggestion(
			kwerr.WithDetails(kwerr.ErrGeneral, map[string]string{"path": configPath}),
			"configuration already exists; use --force to overwrite",
		)
	}

	defaults := config.Defaults()
	defaults.Home = cfg.GetHome()
	if err := config.Save(defaults, configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	output.Success(w, "Configuration initialized at %s", configPath)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - provider.urls.<coin>: Esplora-compatible API endpoint per coin")
	outln(w, "  - krs_providers.<name>.fee_addresses: key recovery service fee addresses")
	outln(w, "  - discovery.scan: unused addresses per chain before stopping")
	outln(w, "  - logging.level: Log level (off/error/warn/debug)")
	return nil
}

// configView is the effective configuration. Text mode prints it as YAML,
// the shape of the config file.
type configView struct {
	*config.Config
}

// RenderText implements output.TextRenderer.
func (v configView) RenderText(w io.Writer) error {
	data, err := yaml.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	shown := *cfg
	if key := cfg.GetAPIKey(); key != "" {
		shown.Provider.APIKey = maskSecret(key)
	}
	return formatter.Print(configView{&shown})
}

// maskSecret keeps the last four characters of longer secrets.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
