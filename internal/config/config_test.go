package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
	"github.com/JakeFAU/metabocrawl/internal/progress"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil, map[string]any{"input.path": "dump.xml"})
	require.NoError(t, err)

	assert.Equal(t, "dump.xml", cfg.Input.Path)
	assert.Equal(t, "metabolite", cfg.Input.RecordElement)
	assert.Equal(t, "accession", cfg.Input.FieldElement)
	assert.Equal(t, "hmdb_endogenous_animal.tsv", cfg.Report.Path)
	assert.False(t, cfg.Report.Resume)
	assert.True(t, cfg.Report.Fsync)
	assert.Equal(t, 20, cfg.Crawler.Workers)
	assert.Equal(t, "https://hmdb.ca/metabolites/{id}", cfg.Crawler.URLTemplate)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 5, cfg.HTTP.MaxAttempts)
	assert.InDelta(t, 1.5, cfg.HTTP.BackoffBase, 1e-9)
	assert.Equal(t, time.Second, cfg.HTTP.BackoffUnit)
	assert.Equal(t, []string{"endogenous", "animal"}, cfg.Classifier.Keywords)
	assert.Equal(t, progress.ModeAuto, cfg.Progress.Mode)
	assert.False(t, cfg.Crawler.RespectRobots)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
input:
  path: /data/hmdb.xml
  record_element: compound
  field_element: id
report:
  path: out.tsv
  resume: true
  fsync: false
  unresolved_path: failed.tsv
crawler:
  workers: 6
  queue_depth: 12
  url_template: http://mirror.local/c/{id}
http:
  timeout: 5s
  max_attempts: 3
  backoff_base: 2
  backoff_unit: 100ms
  rate_limit_rps: 4
classifier:
  keywords: ["Endogenous", " ", "Plant"]
progress:
  mode: LOG
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/hmdb.xml", cfg.Input.Path)
	assert.Equal(t, "compound", cfg.Input.RecordElement)
	assert.Equal(t, "id", cfg.Input.FieldElement)
	assert.Equal(t, "out.tsv", cfg.Report.Path)
	assert.True(t, cfg.Report.Resume)
	assert.False(t, cfg.Report.Fsync)
	assert.Equal(t, "failed.tsv", cfg.Report.UnresolvedPath)
	assert.Equal(t, 6, cfg.Crawler.Workers)
	assert.Equal(t, 12, cfg.Crawler.QueueDepth)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 3, cfg.HTTP.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.HTTP.BackoffUnit)
	assert.InDelta(t, 4.0, cfg.HTTP.RateLimitRPS, 1e-9)
	assert.Equal(t, []string{"Endogenous", "Plant"}, cfg.Classifier.Keywords)
	assert.Equal(t, progress.ModeLog, cfg.Progress.Mode)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadBindsFlags(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	flags.String("out", "", "")
	flags.Bool("resume", false, "")
	flags.Int("workers", 0, "")
	flags.Bool("respect-robots", false, "")
	require.NoError(t, flags.Parse([]string{"--out=flagged.tsv", "--resume", "--workers=0", "--respect-robots"}))

	cfg, err := Load("", flags, map[string]any{"input.path": "dump.xml"})
	require.NoError(t, err)

	assert.Equal(t, "flagged.tsv", cfg.Report.Path)
	assert.True(t, cfg.Report.Resume)
	assert.Equal(t, 1, cfg.Crawler.Workers, "worker count is coerced to at least one")
	assert.True(t, cfg.Crawler.RespectRobots)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrConfig))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Input:      InputConfig{Path: "in.xml", RecordElement: "metabolite", FieldElement: "accession"},
		Report:     ReportConfig{Path: "out.tsv"},
		Crawler:    CrawlerConfig{Workers: 1, URLTemplate: "https://hmdb.ca/metabolites/{id}"},
		HTTP:       HTTPConfig{Timeout: time.Second, MaxAttempts: 5, BackoffBase: 1.5, BackoffUnit: time.Second},
		Classifier: ClassifierConfig{Keywords: []string{"endogenous"}},
		Progress:   ProgressConfig{Mode: progress.ModeNone},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing input", func(c *Config) { c.Input.Path = "" }, "input.path"},
		{"missing report", func(c *Config) { c.Report.Path = " " }, "report.path"},
		{"same unresolved path", func(c *Config) { c.Report.UnresolvedPath = "out.tsv" }, "report.unresolved_path"},
		{"template without placeholder", func(c *Config) { c.Crawler.URLTemplate = "https://hmdb.ca/" }, "crawler.url_template"},
		{"zero timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout"},
		{"zero attempts", func(c *Config) { c.HTTP.MaxAttempts = 0 }, "http.max_attempts"},
		{"shrinking backoff", func(c *Config) { c.HTTP.BackoffBase = 0.5 }, "http.backoff_base"},
		{"negative rps", func(c *Config) { c.HTTP.RateLimitRPS = -1 }, "http.rate_limit_rps"},
		{"no keywords", func(c *Config) { c.Classifier.Keywords = nil }, "classifier.keywords"},
		{"bad progress", func(c *Config) { c.Progress.Mode = "fancy" }, "progress.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Classifier.Keywords = append([]string(nil), base.Classifier.Keywords...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			assert.True(t, errors.Is(err, crawler.ErrConfig))
		})
	}
}
