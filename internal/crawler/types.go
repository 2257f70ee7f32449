// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Flag is the binary outcome persisted for each identifier.
type Flag int

// Flag values written to the report.
const (
	FlagNegative Flag = 0
	FlagPositive Flag = 1
)

// String renders the flag the way the report stores it.
func (f Flag) String() string {
	return strconv.Itoa(int(f))
}

// ParseFlag converts a report cell back into a Flag.
func ParseFlag(raw string) (Flag, bool) {
	switch strings.TrimSpace(raw) {
	case "0":
		return FlagNegative, true
	case "1":
		return FlagPositive, true
	default:
		return FlagNegative, false
	}
}

// TaskState represents the lifecycle state of a single identifier task.
type TaskState string

// Task states. Succeeded and Failed are terminal and recorded; Abandoned is
// terminal and never recorded, so a resumed run picks the identifier up again.
const (
	TaskInFlight  TaskState = "in_flight"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskAbandoned TaskState = "abandoned"
)

// Task is one unit of crawl work. Seq is the identifier's position in the
// pending list and is carried into log lines.
type Task struct {
	Seq int
	ID  string
}

// Record is the unit of durable output. Only ID and Flag reach the report;
// State distinguishes a negative classification from an unresolved fetch.
type Record struct {
	ID       string
	Flag     Flag
	State    TaskState
	Attempts int
	Err      string
	Duration time.Duration
}

// Unresolved reports whether the flag came from a failed fetch rather than
// from the classifier.
func (r Record) Unresolved() bool {
	return r.State == TaskFailed
}

// FetchRequest captures everything needed to fetch one identifier's page.
type FetchRequest struct {
	ID  string
	URL string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// NormalizeID trims and upper-cases a raw identifier token.
func NormalizeID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IDPlaceholder is substituted by URLTemplate.Expand.
const IDPlaceholder = "{id}"

// URLTemplate builds the target address for an identifier.
type URLTemplate string

// Expand substitutes the path-escaped identifier into the template.
func (t URLTemplate) Expand(id string) string {
	return strings.ReplaceAll(string(t), IDPlaceholder, url.PathEscape(id))
}

// Valid reports whether the template is an absolute http(s) URL carrying the
// identifier placeholder.
func (t URLTemplate) Valid() bool {
	raw := string(t)
	if !strings.Contains(raw, IDPlaceholder) {
		return false
	}
	u, err := url.Parse(t.Expand("X"))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
