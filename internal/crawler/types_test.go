package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLTemplateExpand(t *testing.T) {
	t.Parallel()

	tmpl := URLTemplate("https://hmdb.ca/metabolites/{id}")
	assert.Equal(t, "https://hmdb.ca/metabolites/HMDB0000001", tmpl.Expand("HMDB0000001"))
	assert.Equal(t, "https://hmdb.ca/metabolites/A%2FB", tmpl.Expand("A/B"))
}

func TestURLTemplateValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tmpl URLTemplate
		want bool
	}{
		{"default", "https://hmdb.ca/metabolites/{id}", true},
		{"query placeholder", "http://localhost:8080/page?id={id}", true},
		{"missing placeholder", "https://hmdb.ca/metabolites/", false},
		{"relative", "/metabolites/{id}", false},
		{"ftp", "ftp://hmdb.ca/{id}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.tmpl.Valid())
		})
	}
}

func TestParseFlag(t *testing.T) {
	t.Parallel()

	f, ok := ParseFlag("1")
	assert.True(t, ok)
	assert.Equal(t, FlagPositive, f)

	f, ok = ParseFlag(" 0 ")
	assert.True(t, ok)
	assert.Equal(t, FlagNegative, f)

	_, ok = ParseFlag("yes")
	assert.False(t, ok)
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "HMDB0000001", NormalizeID("  hmdb0000001\n"))
	assert.Equal(t, "", NormalizeID("   "))
}

func TestRecordUnresolved(t *testing.T) {
	t.Parallel()

	assert.True(t, Record{State: TaskFailed}.Unresolved())
	assert.False(t, Record{State: TaskSucceeded}.Unresolved())
}
