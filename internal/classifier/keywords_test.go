package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
)

func TestKeywordsClassify(t *testing.T) {
	t.Parallel()

	c := NewKeywords()
	tests := []struct {
		name    string
		content []byte
		want    crawler.Flag
	}{
		{"nil content", nil, crawler.FlagNegative},
		{"empty content", []byte(""), crawler.FlagNegative},
		{"both in order", []byte("<td>Endogenous</td><td>Animal</td>"), crawler.FlagPositive},
		{"both reversed and upper", []byte("ANIMAL ... endogenous"), crawler.FlagPositive},
		{"only endogenous", []byte("Endogenous; Plant"), crawler.FlagNegative},
		{"only animal", []byte("Food; Animal"), crawler.FlagNegative},
		{"neither", []byte("<html>Exogenous drug</html>"), crawler.FlagNegative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.Classify(tt.content))
		})
	}
}

func TestKeywordsCustomList(t *testing.T) {
	t.Parallel()

	c := NewKeywords(" Plant ", "", "Endogenous")
	assert.Equal(t, crawler.FlagPositive, c.Classify([]byte("endogenous PLANT")))
	assert.Equal(t, crawler.FlagNegative, c.Classify([]byte("endogenous animal")))
}

func TestKeywordsBlankListFallsBack(t *testing.T) {
	t.Parallel()

	c := NewKeywords(" ", "")
	assert.Equal(t, crawler.FlagPositive, c.Classify([]byte("Endogenous Animal")))
}

func TestKeywordsDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []byte("ENDOGENOUS ANIMAL")
	NewKeywords().Classify(in)
	assert.Equal(t, "ENDOGENOUS ANIMAL", string(in))
}
