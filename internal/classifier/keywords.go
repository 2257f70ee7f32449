// Package classifier decides the flag recorded for a fetched page.
package classifier

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
)

// DefaultKeywords flags pages listing Endogenous → Animal as a source.
var DefaultKeywords = []string{"endogenous", "animal"}

// Keywords flags content that contains every keyword, ignoring case and order.
type Keywords struct {
	needles [][]byte
}

// NewKeywords builds a Keywords classifier. Blank keywords are ignored; an
// empty list falls back to DefaultKeywords.
func NewKeywords(keywords ...string) *Keywords {
	needles := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		needles = append(needles, []byte(strings.ToLower(kw)))
	}
	if len(needles) == 0 {
		return NewKeywords(DefaultKeywords...)
	}
	return &Keywords{needles: needles}
}

// Classify returns FlagPositive only when all keywords are present. Nil and
// empty content classify as FlagNegative.
func (k *Keywords) Classify(content []byte) crawler.Flag {
	if len(content) == 0 {
		return crawler.FlagNegative
	}
	haystack := bytes.ToLower(content)
	for _, needle := range k.needles {
		if !bytes.Contains(haystack, needle) {
			return crawler.FlagNegative
		}
	}
	return crawler.FlagPositive
}
