// Package report owns the resumable TSV report and its single writer.
package report

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
)

// Header is the first line of every report.
const Header = "ID\tFlag"

// UnresolvedHeader is the first line of the unresolved side file.
const UnresolvedHeader = "ID\tAttempts\tError"

var cellSanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// Options configures Open.
type Options struct {
	Path           string
	Resume         bool
	Fsync          bool
	UnresolvedPath string
}

// Writer appends one row per completed identifier. It is not safe for
// concurrent use; the dispatcher's collector goroutine is its only caller.
type Writer struct {
	opts       Options
	file       *os.File
	unresolved *os.File
	lock       *flock.Flock
	existing   map[string]struct{}
	written    map[string]struct{}
	logger     *zap.Logger
}

// Open locks the report and prepares it for appending. With Resume set and
// an existing report, its identifiers become the resume set and any partial
// trailing row is cut off. Otherwise the report is truncated.
func Open(opts Options, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: report path is required", crawler.ErrConfig)
	}

	lockPath := opts.Path + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire report lock %s: %w", crawler.ErrConfig, lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: report %s is locked by another run", crawler.ErrConfig, opts.Path)
	}

	w := &Writer{
		opts:     opts,
		lock:     lock,
		existing: make(map[string]struct{}),
		written:  make(map[string]struct{}),
		logger:   logger.With(zap.String("report", opts.Path)),
	}
	if err := w.open(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) open() error {
	resumed := false
	if w.opts.Resume {
		state, err := load(w.opts.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			w.logger.Info("no existing report; starting fresh")
		case err != nil:
			return err
		default:
			if err := w.reopen(state); err != nil {
				return err
			}
			resumed = true
		}
	}
	if !resumed {
		f, err := createWithHeader(w.opts.Path, Header, w.opts.Fsync)
		if err != nil {
			return err
		}
		w.file = f
	}

	if w.opts.UnresolvedPath != "" {
		f, err := w.openSideFile(resumed)
		if err != nil {
			return err
		}
		w.unresolved = f
	}
	return nil
}

func (w *Writer) reopen(state loadState) error {
	f, err := os.OpenFile(w.opts.Path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open report %s: %w", w.opts.Path, err)
	}
	if err := w.cutTo(f, state.size, state.validLen); err != nil {
		f.Close()
		return err
	}
	if !state.hasHeader {
		if _, err := f.WriteString(Header + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("write report header: %w", err)
		}
	}
	if state.malformed > 0 {
		w.logger.Warn("malformed report rows ignored", zap.Int("rows", state.malformed))
	}
	w.file = f
	w.existing = state.ids
	w.logger.Info("resuming report", zap.Int("existing", len(state.ids)))
	return nil
}

// cutTo drops everything past the valid prefix and positions f for appending.
func (w *Writer) cutTo(f *os.File, size, valid int64) error {
	if valid < size {
		w.logger.Warn("truncating partial trailing row",
			zap.String("file", f.Name()),
			zap.Int64("size", size),
			zap.Int64("valid", valid),
		)
		if err := f.Truncate(valid); err != nil {
			return fmt.Errorf("truncate %s: %w", f.Name(), err)
		}
	}
	if _, err := f.Seek(valid, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", f.Name(), err)
	}
	return nil
}

// Completed returns how many identifiers the resume set holds.
func (w *Writer) Completed() int {
	return len(w.existing)
}

// Written returns how many rows this run has appended.
func (w *Writer) Written() int {
	return len(w.written)
}

// Pending returns the identifiers absent from the resume set, preserving order.
func (w *Writer) Pending(ids []string) []string {
	if len(w.existing) == 0 {
		return ids
	}
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, done := w.existing[id]; !done {
			pending = append(pending, id)
		}
	}
	return pending
}

// Append durably writes one row. The context is not consulted: records that
// finished before an interrupt are still persisted.
func (w *Writer) Append(_ context.Context, rec crawler.Record) error {
	if w.file == nil {
		return errors.New("report writer is closed")
	}
	if _, dup := w.written[rec.ID]; dup {
		return fmt.Errorf("%w: %s already written in this run", crawler.ErrDuplicateRecord, rec.ID)
	}
	if _, dup := w.existing[rec.ID]; dup {
		return fmt.Errorf("%w: %s already present in report", crawler.ErrDuplicateRecord, rec.ID)
	}

	if _, err := w.file.WriteString(rec.ID + "\t" + rec.Flag.String() + "\n"); err != nil {
		return fmt.Errorf("append %s: %w", rec.ID, err)
	}
	if w.opts.Fsync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync report: %w", err)
		}
	}
	w.written[rec.ID] = struct{}{}

	if rec.Unresolved() && w.unresolved != nil {
		line := rec.ID + "\t" + strconv.Itoa(rec.Attempts) + "\t" + cellSanitizer.Replace(rec.Err) + "\n"
		if _, err := w.unresolved.WriteString(line); err != nil {
			return fmt.Errorf("append unresolved %s: %w", rec.ID, err)
		}
		if w.opts.Fsync {
			if err := w.unresolved.Sync(); err != nil {
				return fmt.Errorf("sync unresolved: %w", err)
			}
		}
	}
	return nil
}

// Close closes both files, removes the lock file and releases the lock.
func (w *Writer) Close() error {
	var errs []error
	if w.file != nil {
		errs = append(errs, w.file.Close())
		w.file = nil
	}
	if w.unresolved != nil {
		errs = append(errs, w.unresolved.Close())
		w.unresolved = nil
	}
	if w.lock != nil {
		if w.lock.Locked() {
			if err := os.Remove(w.lock.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove report lock: %w", err))
			}
		}
		errs = append(errs, w.lock.Unlock())
		w.lock = nil
	}
	return errors.Join(errs...)
}

func createWithHeader(path, header string, fsync bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", crawler.ErrConfig, path, err)
	}
	if _, err := f.WriteString(header + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}
	if fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("sync %s: %w", path, err)
		}
	}
	return f, nil
}

// openSideFile truncates the unresolved file unless the run resumes. On
// resume it keeps the complete rows and cuts off a partial trailing one.
func (w *Writer) openSideFile(resumed bool) (*os.File, error) {
	path := w.opts.UnresolvedPath
	if !resumed {
		return createWithHeader(path, UnresolvedHeader, w.opts.Fsync)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if errors.Is(err, fs.ErrNotExist) {
		return createWithHeader(path, UnresolvedHeader, w.opts.Fsync)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", crawler.ErrConfig, path, err)
	}
	size, valid, err := completePrefix(f)
	if err == nil {
		err = w.cutTo(f, size, valid)
	}
	if err == nil && valid == 0 {
		_, err = f.WriteString(UnresolvedHeader + "\n")
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("prepare %s: %w", path, err)
	}
	return f, nil
}

// completePrefix returns the size of r and the byte length of its
// newline-terminated prefix.
func completePrefix(r io.Reader) (size, valid int64, err error) {
	br := bufio.NewReader(r)
	for {
		var line string
		line, err = br.ReadString('\n')
		size += int64(len(line))
		if strings.HasSuffix(line, "\n") {
			valid = size
		}
		if errors.Is(err, io.EOF) {
			return size, valid, nil
		}
		if err != nil {
			return 0, 0, err
		}
	}
}

type loadState struct {
	ids       map[string]struct{}
	size      int64
	validLen  int64
	hasHeader bool
	malformed int
}

// load scans an existing report. Only newline-terminated rows count; validLen
// is the byte length of that complete prefix.
func load(path string) (loadState, error) {
	f, err := os.Open(path)
	if err != nil {
		return loadState{}, err
	}
	defer f.Close()

	state := loadState{ids: make(map[string]struct{})}
	r := bufio.NewReader(f)
	first := true
	for {
		line, err := r.ReadString('\n')
		state.size += int64(len(line))
		if err != nil && !errors.Is(err, io.EOF) {
			return loadState{}, fmt.Errorf("read report %s: %w", path, err)
		}
		if !strings.HasSuffix(line, "\n") {
			// Partial trailing row, or EOF.
			return state, nil
		}
		state.validLen += int64(len(line))
		fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")

		if first {
			first = false
			if !isHeader(fields) {
				return loadState{}, fmt.Errorf("%w: %s does not start with a two-column header", crawler.ErrReportFormat, path)
			}
			state.hasHeader = true
			continue
		}
		rec, ok := parseRow(fields)
		if !ok {
			state.malformed++
			continue
		}
		state.ids[rec.ID] = struct{}{}
	}
}

// isHeader accepts any two-column first row whose second cell is not a flag,
// so reports written with older column names still resume.
func isHeader(fields []string) bool {
	if len(fields) != 2 {
		return false
	}
	_, isFlag := crawler.ParseFlag(fields[1])
	return !isFlag
}

func parseRow(fields []string) (crawler.Record, bool) {
	if len(fields) != 2 {
		return crawler.Record{}, false
	}
	id := crawler.NormalizeID(fields[0])
	flag, ok := crawler.ParseFlag(fields[1])
	if id == "" || !ok {
		return crawler.Record{}, false
	}
	return crawler.Record{ID: id, Flag: flag}, true
}

// ReadRecords parses every well-formed, newline-terminated row of a report.
func ReadRecords(path string) ([]crawler.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report %s: %w", path, err)
	}
	defer f.Close()

	var records []crawler.Record
	r := bufio.NewReader(f)
	first := true
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read report %s: %w", path, err)
		}
		if !strings.HasSuffix(line, "\n") {
			return records, nil
		}
		fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
		if first {
			first = false
			if isHeader(fields) {
				continue
			}
		}
		if rec, ok := parseRow(fields); ok {
			records = append(records, rec)
		}
	}
}
