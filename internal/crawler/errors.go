package crawler

import "errors"

var (
	// ErrParse marks structurally malformed input.
	ErrParse = errors.New("parse error")
	// ErrNoIdentifiers is returned when extraction yields nothing to crawl.
	ErrNoIdentifiers = errors.New("no identifiers extracted")
	// ErrFetchFailure marks a fetch that exhausted its retries.
	ErrFetchFailure = errors.New("fetch failed")
	// ErrConfig marks invalid configuration, paths, or a locked report.
	ErrConfig = errors.New("configuration error")
	// ErrInterrupted is returned when a run stops because its context ended.
	ErrInterrupted = errors.New("crawl interrupted")
	// ErrDuplicateRecord is returned when an identifier is written twice in one run.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrReportFormat marks an existing report that cannot be resumed.
	ErrReportFormat = errors.New("unexpected report format")
)
