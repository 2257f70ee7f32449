// Package cmd defines and implements the CLI commands for the metabocrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/config"
	"github.com/JakeFAU/metabocrawl/internal/id/uuid"
	"github.com/JakeFAU/metabocrawl/internal/logging"
)

// newRootCmd creates the root command and attaches every subcommand.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metabocrawl",
		Short: "Classifies HMDB metabolites by crawling their pages.",
		Long: `metabocrawl extracts metabolite accessions from an HMDB XML dump, fetches
each metabolite page with a bounded worker pool, and records whether the page
describes an endogenous, animal-derived compound in a resumable TSV report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml, json, or toml)")
	cmd.PersistentFlags().String("log-level", "info", "minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("dev", false, "human-readable development logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newExtractCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code. SIGINT and SIGTERM
// cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, newRootCmd(), os.Args[1:], os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "metabocrawl:", err)
		}
		return 1
	}
	return 0
}

// loadConfig reads configuration for cmd with the input path taken from args.
func loadConfig(cmd *cobra.Command, input string) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("read --config: %w", err)
	}
	cfg, err := config.Load(path, cmd.Flags(), map[string]any{"input.path": input})
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the run logger. Every line carries a fresh run ID.
func newLogger(cfg config.Config) (*zap.Logger, func(), error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(zap.String("run_id", uuid.New().NewID()))
	return logger, func() { _ = logger.Sync() }, nil
}
