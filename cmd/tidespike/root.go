package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"tidespike/internal/config"
	"tidespike/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "tidespike",
		Short: "Histogram-based spike detection for water-level series",
		Long: `tidespike flags spikes in tide gauge series by comparing each reading with
the empirical distribution of the readings in the window before it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml or json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override log_format (json|text)")

	root.AddCommand(
		newDetectCmd(opts),
		newServeCmd(opts),
		newImportCmd(opts),
		newConfigCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// loadConfig reads the config file when one is given, else the defaults.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(config.ResolvePath(o.configPath))
}

func (o *rootOptions) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, format := cfg.LogLevel, cfg.LogFormat
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	return logging.New(w, level, format)
}
