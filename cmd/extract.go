package cmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/source"
)

// newExtractCmd creates the 'extract' subcommand, a network-free dry run.
func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <xmlfile>",
		Short: "Prints the accessions a crawl would visit, one per line",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtractCommand,
	}
}

func runExtractCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	logger, syncLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer syncLogger()

	src, err := source.NewXML(source.Options{
		Path:          cfg.Input.Path,
		RecordElement: cfg.Input.RecordElement,
		FieldElement:  cfg.Input.FieldElement,
	}, logger)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(cmd.OutOrStdout())
	stats, err := src.Walk(cmd.Context(), func(id string) error {
		_, werr := fmt.Fprintln(out, id)
		return werr
	})
	if ferr := out.Flush(); err == nil && ferr != nil {
		err = ferr
	}
	if interrupted(cmd.Context(), err) {
		logger.Warn("extraction interrupted", zap.Int("identifiers", stats.Extracted))
		return nil
	}
	if err != nil {
		return fmt.Errorf("extract identifiers: %w", err)
	}
	logger.Debug("extraction finished",
		zap.Int("records", stats.Records),
		zap.Int("identifiers", stats.Extracted),
	)
	return nil
}
