// Package cmd defines and implements the CLI commands for the urlharvest executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/app"
	"github.com/JakeFAU/urlharvest/internal/config"
	"github.com/JakeFAU/urlharvest/internal/logging"
)

// newApp is the application factory. It's a variable so tests can swap in
// services registered against an isolated Prometheus registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (*app.App, error) {
	return app.New(ctx, cfg, logger, opts...)
}

// runtime carries what the root command resolved for its subcommands.
type runtime struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	rt := &runtime{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "urlharvest",
		Short: "A concurrent URL harvester.",
		Long: `urlharvest crawls outward from a seed URL, collects every unique URL it
discovers in HTML, JSON and XML content, and persists them into per-category
stores (PDF, Images, JSON, ...). Crawls run from the command line or through
an HTTP API.`,
		SilenceUsage: true,

		// Config is resolved before any subcommand runs so flags bound to viper
		// take part in it.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(rt.v, rt.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.logger != nil {
				// Sync fails on non-file stderr; nothing useful to do about it.
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&rt.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().Bool("dev", false, "human-readable development logging")
	mustBind(rt.v, "logging.development", cmd.PersistentFlags().Lookup("dev"))

	cmd.AddCommand(newCrawlCmd(rt))
	cmd.AddCommand(newServeCmd(rt))
	return cmd
}

// mustBind ties a flag to a config key. It only fails for a nil flag, which
// is a programming error.
func mustBind(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Errorf("bind %s: %w", key, err))
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
