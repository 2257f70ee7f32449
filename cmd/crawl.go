package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/classifier"
	"github.com/JakeFAU/metabocrawl/internal/config"
	"github.com/JakeFAU/metabocrawl/internal/crawler"
	"github.com/JakeFAU/metabocrawl/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/metabocrawl/internal/fetcher/colly"
	"github.com/JakeFAU/metabocrawl/internal/fetcher/retry"
	"github.com/JakeFAU/metabocrawl/internal/metrics"
	"github.com/JakeFAU/metabocrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/metabocrawl/internal/progress"
	"github.com/JakeFAU/metabocrawl/internal/report"
	"github.com/JakeFAU/metabocrawl/internal/source"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <xmlfile>",
		Short: "Crawls every accession in an HMDB XML dump",
		Long: `Extracts accessions from the XML dump, fetches each metabolite page, and
appends one "ID<TAB>Flag" row per accession to the report. Flag is 1 when the
page mentions every configured keyword and 0 otherwise, including pages that
could not be fetched. With --resume, accessions already in the report are
skipped and new rows are appended.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.StringP("out", "o", "hmdb_endogenous_animal.tsv", "report path")
	flags.Bool("resume", false, "keep existing report rows and crawl only missing accessions")
	flags.String("unresolved-out", "", "optional TSV listing accessions whose fetch failed")
	flags.IntP("workers", "w", 20, "concurrent fetches")
	flags.String("url-template", "https://hmdb.ca/metabolites/{id}", "page address; {id} is replaced by the accession")
	flags.Duration("timeout", 30*time.Second, "per-attempt request timeout")
	flags.String("progress", progress.ModeAuto, "progress output: auto, bar, log, or none")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.Bool("respect-robots", false, "skip pages disallowed by the target's robots.txt")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	logger, syncLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer syncLogger()

	if n, _ := cmd.Flags().GetInt("workers"); cmd.Flags().Changed("workers") && n < 1 {
		logger.Warn("worker count below one; using one worker", zap.Int("requested", n))
	}

	src, err := source.NewXML(source.Options{
		Path:          cfg.Input.Path,
		RecordElement: cfg.Input.RecordElement,
		FieldElement:  cfg.Input.FieldElement,
	}, logger)
	if err != nil {
		return err
	}
	ids, err := src.Identifiers(ctx)
	if interrupted(ctx, err) {
		logger.Warn("crawl interrupted during extraction; nothing crawled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("extract identifiers: %w", err)
	}

	writer, err := report.Open(report.Options{
		Path:           cfg.Report.Path,
		Resume:         cfg.Report.Resume,
		Fsync:          cfg.Report.Fsync,
		UnresolvedPath: cfg.Report.UnresolvedPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			logger.Warn("failed to close report", zap.Error(cerr))
		}
	}()

	if interrupted(ctx, ctx.Err()) {
		logger.Warn("crawl interrupted before fetching; nothing crawled")
		return nil
	}

	pending := writer.Pending(ids)
	logger.Info("crawl plan",
		zap.Int("identifiers", len(ids)),
		zap.Int("already_recorded", writer.Completed()),
		zap.Int("pending", len(pending)),
	)

	if cfg.Metrics.Addr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, logger)
		defer stopMetrics()
	}

	d := buildDispatcher(cfg, writer, len(pending), logger)
	summary, err := d.Run(ctx, pending)
	switch {
	case errors.Is(err, crawler.ErrInterrupted):
		logger.Warn("crawl interrupted; rerun with --resume to continue", summary.Fields()...)
		return nil
	case err != nil:
		return fmt.Errorf("crawl: %w", err)
	}

	records, err := report.ReadRecords(cfg.Report.Path)
	if err != nil {
		return err
	}
	positive := 0
	for _, rec := range records {
		if rec.Flag == crawler.FlagPositive {
			positive++
		}
	}
	logger.Info("report complete",
		zap.String("path", cfg.Report.Path),
		zap.Int("rows", len(records)),
		zap.Int("written_this_run", writer.Written()),
		zap.Int("positive", positive),
	)
	return nil
}

// interrupted reports whether err is the command context ending.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, crawler.ErrInterrupted))
}

func buildDispatcher(cfg config.Config, sink crawler.Sink, total int, logger *zap.Logger) *dispatcher.Dispatcher {
	var limiter crawler.Limiter
	if cfg.HTTP.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HTTP.RateLimitRPS,
			DefaultBurst: cfg.HTTP.RateLimitBurst,
		})
	}
	fetcher := retry.New(
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.HTTP.Timeout,
			MaxConns:      cfg.Crawler.Workers,
		}),
		limiter,
		retry.Policy{
			MaxAttempts: cfg.HTTP.MaxAttempts,
			Timeout:     cfg.HTTP.Timeout,
			Base:        cfg.HTTP.BackoffBase,
			Unit:        cfg.HTTP.BackoffUnit,
			MaxDelay:    cfg.HTTP.BackoffMax,
		},
		logger.Named("fetch"),
	)

	var observer crawler.Observer = progress.New(cfg.Progress.Mode, total, cfg.Progress.LogInterval, logger)
	if cfg.Metrics.Addr != "" {
		observer = progress.Multi{observer, metrics.NewProgress()}
	}

	return dispatcher.New(
		dispatcher.Options{Workers: cfg.Crawler.Workers, QueueDepth: cfg.Crawler.QueueDepth},
		fetcher,
		classifier.NewKeywords(cfg.Classifier.Keywords...),
		crawler.URLTemplate(cfg.Crawler.URLTemplate),
		sink,
		observer,
		logger.Named("dispatcher"),
	)
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, logger *zap.Logger) func() {
	srv := metrics.NewServer(addr)
	go func() {
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
}
