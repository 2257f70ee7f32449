// Package source extracts crawl identifiers from streamed XML dumps.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
)

var elementName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Options selects the file and the element names to stream.
type Options struct {
	Path          string
	RecordElement string
	FieldElement  string
}

// Stats summarises one pass over the input.
type Stats struct {
	Records    int
	Extracted  int
	Skipped    int
	Duplicates int
}

// XML streams record elements one at a time and pulls the first matching
// field out of each. Namespaces are ignored by matching on local names.
type XML struct {
	path       string
	recordExpr string
	fieldExpr  string
	logger     *zap.Logger
}

// NewXML validates element names and builds an XML source.
func NewXML(opts Options, logger *zap.Logger) (*XML, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: input path is required", crawler.ErrConfig)
	}
	for _, name := range []string{opts.RecordElement, opts.FieldElement} {
		if !elementName.MatchString(name) {
			return nil, fmt.Errorf("%w: invalid element name %q", crawler.ErrConfig, name)
		}
	}
	return &XML{
		path:       opts.Path,
		recordExpr: fmt.Sprintf("//*[local-name()='%s']", opts.RecordElement),
		fieldExpr:  fmt.Sprintf(".//*[local-name()='%s']", opts.FieldElement),
		logger:     logger.With(zap.String("input", opts.Path)),
	}, nil
}

// Identifiers returns every distinct normalized identifier in document order.
func (s *XML) Identifiers(ctx context.Context) ([]string, error) {
	var ids []string
	stats, err := s.Walk(ctx, func(id string) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("identifiers extracted",
		zap.Int("records", stats.Records),
		zap.Int("identifiers", stats.Extracted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("duplicates", stats.Duplicates),
	)
	return ids, nil
}

// Walk calls fn once per distinct identifier. Records lacking the field are
// skipped with a warning. It returns ErrNoIdentifiers when fn was never called.
func (s *XML) Walk(ctx context.Context, fn func(id string) error) (Stats, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: open input: %w", crawler.ErrConfig, err)
	}
	defer f.Close()

	stats, err := s.walk(ctx, f, fn)
	if err != nil {
		return stats, err
	}
	if stats.Extracted == 0 {
		return stats, fmt.Errorf("%w from %s (%d records scanned)", crawler.ErrNoIdentifiers, s.path, stats.Records)
	}
	return stats, nil
}

func (s *XML) walk(ctx context.Context, r io.Reader, fn func(id string) error) (Stats, error) {
	var stats Stats
	parser, err := xmlquery.CreateStreamParser(r, s.recordExpr)
	if err != nil {
		return stats, fmt.Errorf("%w: stream parser: %w", crawler.ErrParse, err)
	}

	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		node, err := parser.Read()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("%w: %s after %d records: %w", crawler.ErrParse, s.path, stats.Records, err)
		}
		stats.Records++

		id, ok := s.extract(node)
		if !ok {
			stats.Skipped++
			s.logger.Warn("record without identifier skipped", zap.Int("record", stats.Records))
			continue
		}
		if _, dup := seen[id]; dup {
			stats.Duplicates++
			s.logger.Debug("duplicate identifier skipped", zap.String("id", id))
			continue
		}
		seen[id] = struct{}{}
		stats.Extracted++
		if err := fn(id); err != nil {
			return stats, err
		}
	}
}

func (s *XML) extract(record *xmlquery.Node) (string, bool) {
	field, err := xmlquery.Query(record, s.fieldExpr)
	if err != nil || field == nil {
		return "", false
	}
	id := crawler.NormalizeID(field.InnerText())
	return id, id != ""
}
