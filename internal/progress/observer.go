// Package progress provides crawler.Observer implementations: a throttled
// terminal bar, periodic structured logs, and a fan-out combinator.
package progress

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
)

// Modes accepted by New.
const (
	ModeAuto = "auto"
	ModeBar  = "bar"
	ModeLog  = "log"
	ModeNone = "none"
)

// New picks an observer for mode. Auto renders a bar when stderr is a
// terminal and falls back to periodic logs otherwise.
func New(mode string, total int, logInterval int, logger *zap.Logger) crawler.Observer {
	switch mode {
	case ModeNone:
		return crawler.NopObserver{}
	case ModeBar:
		return NewBar(os.Stderr, total)
	case ModeLog:
		return NewLog(logger, logInterval)
	default:
		if isTerminal(os.Stderr) {
			return NewBar(os.Stderr, total)
		}
		return NewLog(logger, logInterval)
	}
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Bar renders a progress bar.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar builds a Bar writing to w.
func NewBar(w io.Writer, total int) *Bar {
	return &Bar{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Crawling"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
		),
	}
}

// TaskCompleted implements crawler.Observer.
func (b *Bar) TaskCompleted(done, _ int) {
	_ = b.bar.Set(done)
}

// Log emits a structured line every interval completions and on the last one.
type Log struct {
	logger   *zap.Logger
	interval int
	started  time.Time
}

// NewLog builds a Log observer. Intervals below one log every completion.
func NewLog(logger *zap.Logger, interval int) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval < 1 {
		interval = 1
	}
	return &Log{logger: logger, interval: interval, started: time.Now()}
}

// TaskCompleted implements crawler.Observer.
func (l *Log) TaskCompleted(done, total int) {
	if done%l.interval != 0 && done != total {
		return
	}
	elapsed := time.Since(l.started)
	fields := []zap.Field{
		zap.Int("done", done),
		zap.Int("total", total),
		zap.Duration("elapsed", elapsed.Round(time.Second)),
	}
	if done > 0 && total > done {
		remaining := time.Duration(float64(elapsed) / float64(done) * float64(total-done))
		fields = append(fields, zap.Duration("eta", remaining.Round(time.Second)))
	}
	l.logger.Info("crawl progress", fields...)
}

// Multi fans each notification out to every observer in order.
type Multi []crawler.Observer

// TaskCompleted implements crawler.Observer.
func (m Multi) TaskCompleted(done, total int) {
	for _, o := range m {
		if o != nil {
			o.TaskCompleted(done, total)
		}
	}
}
