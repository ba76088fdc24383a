// Package cli implements the keyward command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrz1836/keyward/internal/config"
	"github.com/mrz1836/keyward/internal/output"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

var (
	// Global flags
	homeDir      string
	outputFormat string
	verbose      bool

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "keyward",
	Short: "Recover funds from a 2-of-3 multisig wallet",
	Long: `Keyward moves funds out of a 2-of-3 UTXO multisig wallet without the
custodial co-signer, using the user, backup and custodian keys you hold.

The keys you supply decide what it produces:
  user and backup private keys   a fully signed, broadcastable transaction
  user private, backup public    a half-signed transaction for a key recovery service
  all keys public                an unsigned bundle for offline signing

Example:
  keyward recover --coin btc --user-key @user.age --backup-key @backup.age \
    --bitgo-key xpub... --destination bc1q...`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initGlobals(cmd)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		format := output.FormatText
		if formatter != nil {
			format = formatter.Format()
		}
		_ = output.FormatError(rootCmd.ErrOrStderr(), err, format)
		cleanup()
		return err
	}
	return nil
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return kwerr.ExitCode(err)
}

// initGlobals loads configuration and sets up the logger and formatter.
// A missing config file means defaults; an invalid one is an error.
func initGlobals(cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	flagFormat, err := output.ParseFormat(outputFormat)
	if err != nil {
		formatter = output.NewFormatter(output.FormatText, w)
		return err
	}
	// Errors raised while loading configuration honor the output flag.
	formatter = output.NewFormatter(flagFormat, w)

	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	cfg, err = config.Load(config.Path(home))
	switch {
	case errors.Is(err, kwerr.ErrConfigNotFound):
		cfg = config.Defaults()
	case err != nil:
		return err
	}
	cfg.Home = home

	config.ApplyEnvironment(cfg)
	if homeDir != "" {
		cfg.Home = homeDir
	}
	if flagFormat != output.FormatAuto {
		cfg.Output.Format = string(flagFormat)
	}

	if verbose {
		logger = config.NewConsoleLogger(config.LogLevelDebug, cmd.ErrOrStderr())
	} else {
		logger, err = config.NewLogger(config.ParseLogLevel(cfg.GetLoggingLevel()), cfg.GetLoggingFile())
		if err != nil {
			logger = config.NullLogger()
		}
	}

	format, err := output.ParseFormat(cfg.GetOutputFormat())
	if err != nil {
		return kwerr.WithDetails(kwerr.WithCause(kwerr.ErrConfigInvalid, err),
			map[string]string{"field": "output.format", "value": cfg.GetOutputFormat()})
	}
	formatter = output.NewFormatter(format, w)
	return nil
}

// cleanup releases resources.
func cleanup() {
	if logger != nil {
		_ = logger.Close()
	}
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "keyward data directory (default: ~/.keyward)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}
