// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
	"github.com/JakeFAU/metabocrawl/internal/progress"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Report     ReportConfig     `mapstructure:"report"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// InputConfig describes the XML dump and which elements carry identifiers.
type InputConfig struct {
	Path          string `mapstructure:"path"`
	RecordElement string `mapstructure:"record_element"`
	FieldElement  string `mapstructure:"field_element"`
}

// ReportConfig controls the resumable TSV report.
type ReportConfig struct {
	Path           string `mapstructure:"path"`
	Resume         bool   `mapstructure:"resume"`
	Fsync          bool   `mapstructure:"fsync"`
	UnresolvedPath string `mapstructure:"unresolved_path"`
}

// CrawlerConfig governs the worker pool and target addresses.
type CrawlerConfig struct {
	Workers       int    `mapstructure:"workers"`
	QueueDepth    int    `mapstructure:"queue_depth"`
	URLTemplate   string `mapstructure:"url_template"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// HTTPConfig configures per-attempt timeouts, retries, and pacing.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    float64       `mapstructure:"backoff_base"`
	BackoffUnit    time.Duration `mapstructure:"backoff_unit"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// ClassifierConfig lists the keywords that must all appear in a page.
type ClassifierConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// ProgressConfig selects the progress observer.
type ProgressConfig struct {
	Mode        string `mapstructure:"mode"`
	LogInterval int    `mapstructure:"log_interval"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"out":            "report.path",
	"resume":         "report.resume",
	"unresolved-out": "report.unresolved_path",
	"workers":        "crawler.workers",
	"url-template":   "crawler.url_template",
	"timeout":        "http.timeout",
	"progress":       "progress.mode",
	"metrics-addr":   "metrics.addr",
	"respect-robots": "crawler.respect_robots",
	"log-level":      "logging.level",
	"dev":            "logging.development",
}

// Load builds a Config from disk, environment, and any bound flags.
// A nil flag set is allowed; flags absent from the set are ignored.
// Overrides take precedence over every other source.
func Load(path string, flags *pflag.FlagSet, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("%w: bind flag %s: %w", crawler.ErrConfig, name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config: %w", crawler.ErrConfig, err)
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %w", crawler.ErrConfig, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.record_element", "metabolite")
	v.SetDefault("input.field_element", "accession")
	v.SetDefault("report.path", "hmdb_endogenous_animal.tsv")
	v.SetDefault("report.resume", false)
	v.SetDefault("report.fsync", true)
	v.SetDefault("crawler.workers", 20)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.url_template", "https://hmdb.ca/metabolites/{id}")
	v.SetDefault("crawler.user_agent", "metabocrawl/1.0 (+https://github.com/JakeFAU/metabocrawl)")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_base", 1.5)
	v.SetDefault("http.backoff_unit", "1s")
	v.SetDefault("http.backoff_max", "0s")
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("classifier.keywords", []string{"endogenous", "animal"})
	v.SetDefault("progress.mode", progress.ModeAuto)
	v.SetDefault("progress.log_interval", 500)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Normalize coerces soft limits into range. Worker counts below one become one.
func (c *Config) Normalize() {
	if c.Crawler.Workers < 1 {
		c.Crawler.Workers = 1
	}
	if c.Crawler.QueueDepth < 1 {
		c.Crawler.QueueDepth = c.Crawler.Workers
	}
	if c.HTTP.RateLimitBurst < 1 {
		c.HTTP.RateLimitBurst = 1
	}
	c.Progress.Mode = strings.ToLower(strings.TrimSpace(c.Progress.Mode))
	kw := c.Classifier.Keywords[:0:0]
	for _, k := range c.Classifier.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	c.Classifier.Keywords = kw
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Input.Path) == "" {
		errs = append(errs, errors.New("input.path is required"))
	}
	if c.Input.RecordElement == "" || c.Input.FieldElement == "" {
		errs = append(errs, errors.New("input.record_element and input.field_element must be set"))
	}
	if strings.TrimSpace(c.Report.Path) == "" {
		errs = append(errs, errors.New("report.path is required"))
	}
	if c.Report.UnresolvedPath != "" && c.Report.UnresolvedPath == c.Report.Path {
		errs = append(errs, errors.New("report.unresolved_path must differ from report.path"))
	}
	if !crawler.URLTemplate(c.Crawler.URLTemplate).Valid() {
		errs = append(errs, fmt.Errorf("crawler.url_template %q must be an http(s) URL containing %s",
			c.Crawler.URLTemplate, crawler.IDPlaceholder))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.HTTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("http.max_attempts must be >= 1"))
	}
	if c.HTTP.BackoffBase < 1 {
		errs = append(errs, errors.New("http.backoff_base must be >= 1"))
	}
	if c.HTTP.BackoffUnit < 0 || c.HTTP.BackoffMax < 0 {
		errs = append(errs, errors.New("http.backoff_unit and http.backoff_max must be >= 0"))
	}
	if c.HTTP.RateLimitRPS < 0 {
		errs = append(errs, errors.New("http.rate_limit_rps must be >= 0"))
	}
	if len(c.Classifier.Keywords) == 0 {
		errs = append(errs, errors.New("classifier.keywords must not be empty"))
	}
	switch c.Progress.Mode {
	case progress.ModeAuto, progress.ModeBar, progress.ModeLog, progress.ModeNone:
	default:
		errs = append(errs, fmt.Errorf("progress.mode %q must be one of auto, bar, log, none", c.Progress.Mode))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", crawler.ErrConfig, errors.Join(errs...))
}
