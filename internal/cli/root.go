package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/kestrel/internal/config"
	"github.com/roach88/kestrel/internal/logging"
)

// RootOptions holds global flags for all commands, and the configuration
// and logger resolved from them.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	LogLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"format":    "format",
	"log-level": "log_level",
	"workers":   "workers",
	"history":   "history_path",
	"record":    "record_runs",
}

// NewRootCommand creates the root command for the kestrel CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kestrel",
		Short: "kestrel - incremental resource simulation",
		Long: `Simulate time-varying resources through a plan of scheduled activities.

Plans are written in YAML or CUE. Results of earlier runs are kept in a
content-addressed history, so a plan resimulated after a small edit only
recomputes what the edit changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.setup(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default .kestrel.yaml in . or $HOME)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (error|warn|info|debug|trace)")

	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup resolves configuration from the config file, KESTREL_* variables
// and the flags set on cmd, then installs the logger. It runs once.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if o.cfg != nil {
		return nil
	}

	v := viper.New()
	if err := config.Init(v, o.ConfigFile); err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	// A command built without the root carries its options directly
	if cmd.Flags().Lookup("format") == nil && o.Format != "" {
		v.Set("format", o.Format)
	}
	if cmd.Flags().Lookup("log-level") == nil && o.LogLevel != "" {
		v.Set("log_level", o.LogLevel)
	}
	for flag, key := range flagKeys {
		// Only flags the user set override lower layers
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return WrapExitError(ExitCommandError, "failed to bind flag "+flag, err)
			}
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Verbose && !cmd.Flags().Changed("log-level") && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}
	o.Format = cfg.Format
	o.cfg = &cfg

	if cfg.Format == "json" {
		o.logger = logging.NewJSONLogger(cfg.LogLevel, cmd.ErrOrStderr())
	} else {
		o.logger = logging.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
	}
	slog.SetDefault(o.logger)
	return nil
}

// config returns the resolved configuration. setup must have run.
func (o *RootOptions) config() config.Config {
	return *o.cfg
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
