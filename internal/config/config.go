// Package config loads and validates docfetcher configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/frontier"
	"github.com/JakeFAU/docfetcher/internal/parser"
)

// Storage backends accepted by storage.backend.
const (
	BackendNone   = "none"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Fetcher  FetcherConfig                `mapstructure:"fetcher"`
	HTTP     HTTPConfig                   `mapstructure:"http"`
	Headless HeadlessConfig               `mapstructure:"headless"`
	Extract  ExtractConfig                `mapstructure:"extract"`
	Storage  StorageConfig                `mapstructure:"storage"`
	PubSub   PubSubConfig                 `mapstructure:"pubsub"`
	DB       DBConfig                     `mapstructure:"db"`
	Server   ServerConfig                 `mapstructure:"server"`
	Tracing  TracingConfig                `mapstructure:"tracing"`
	Logging  LoggingConfig                `mapstructure:"logging"`
	Sites    map[string]parser.Descriptor `mapstructure:"sites"`
}

// FetcherConfig governs target building, pagination and the worker pools.
type FetcherConfig struct {
	Site               string        `mapstructure:"site"`
	SearchURL          string        `mapstructure:"search_url"`
	StartURLs          []string      `mapstructure:"start_urls"`
	SearchKeywords     []string      `mapstructure:"search_keywords"`
	PagePlaceholder    string        `mapstructure:"page_placeholder"`
	KeywordPlaceholder string        `mapstructure:"keyword_placeholder"`
	StartPage          int           `mapstructure:"start_page"`
	MaxPages           int           `mapstructure:"max_pages"`
	MaxArticles        int           `mapstructure:"max_articles"`
	OutputDir          string        `mapstructure:"output_dir"`
	LinksFile          string        `mapstructure:"links_file"`
	ArticlesFile       string        `mapstructure:"articles_file"`
	OverwriteExisting  bool          `mapstructure:"overwrite_existing"`
	Delay              time.Duration `mapstructure:"delay"`
	Workers            int           `mapstructure:"workers"`
	ProgressEvery      int           `mapstructure:"progress_every"`
	EmptyPagePolicy    string        `mapstructure:"empty_page_policy"`
	// BlockedDomains drops listing links to these hosts ("*.example.org" matches subdomains).
	BlockedDomains []string `mapstructure:"blocked_domains"`
	// Render forces headless fetching even when the site descriptor does not ask for it.
	Render  bool   `mapstructure:"render"`
	WaitFor string `mapstructure:"wait_for"`
}

// HTTPConfig configures the static fetcher and per-host politeness.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	ExecPath    string        `mapstructure:"exec_path"`
	// Promote re-fetches thin static responses headless.
	Promote            bool `mapstructure:"promote"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// ExtractConfig tunes the extraction cascade.
type ExtractConfig struct {
	FallbackMarkers  []string `mapstructure:"fallback_markers"`
	OCROnBlankText   bool     `mapstructure:"ocr_on_blank_text"`
	OCREnabled       bool     `mapstructure:"ocr_enabled"`
	OCRLanguages     []string `mapstructure:"ocr_languages"`
	OCRDPI           float64  `mapstructure:"ocr_dpi"`
	Deskew           bool     `mapstructure:"deskew"`
	ArchiveDocuments bool     `mapstructure:"archive_documents"`
}

// StorageConfig selects where snapshots are mirrored and documents archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the phase summary topic. An empty project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls the Postgres run ledger. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig controls the status server started by `serve`.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// TracingConfig toggles span export to Cloud Trace.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ProjectID   string `mapstructure:"project_id"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCFETCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetcher.site", "bis")
	v.SetDefault("fetcher.page_placeholder", crawler.DefaultPagePlaceholder)
	v.SetDefault("fetcher.keyword_placeholder", crawler.DefaultKeywordPlaceholder)
	v.SetDefault("fetcher.start_page", 1)
	v.SetDefault("fetcher.max_pages", 2)
	v.SetDefault("fetcher.max_articles", 0)
	v.SetDefault("fetcher.output_dir", "data")
	v.SetDefault("fetcher.links_file", "links.jsonl")
	v.SetDefault("fetcher.articles_file", "articles.jsonl")
	v.SetDefault("fetcher.overwrite_existing", false)
	v.SetDefault("fetcher.delay", time.Second)
	v.SetDefault("fetcher.workers", 4)
	v.SetDefault("fetcher.progress_every", 25)
	v.SetDefault("fetcher.empty_page_policy", string(frontier.EmptyPageContinue))
	v.SetDefault("http.user_agent", "docfetcher/0.1")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_body_bytes", 32<<20)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("headless.settle_delay", 500*time.Millisecond)
	v.SetDefault("headless.promote", false)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extract.ocr_on_blank_text", true)
	v.SetDefault("extract.ocr_enabled", true)
	v.SetDefault("extract.ocr_languages", []string{"eng"})
	v.SetDefault("extract.ocr_dpi", 300.0)
	v.SetDefault("extract.deskew", true)
	v.SetDefault("extract.archive_documents", false)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.prefix", "docfetcher")
	v.SetDefault("db.table", "fetch_phase_runs")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("tracing.service_name", "docfetcher")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Fetcher.Site) == "" {
		return fmt.Errorf("fetcher.site is required")
	}
	if c.Fetcher.Workers <= 0 {
		return fmt.Errorf("fetcher.workers must be > 0")
	}
	if c.Fetcher.StartPage < 0 {
		return fmt.Errorf("fetcher.start_page must be >= 0")
	}
	if c.Fetcher.MaxPages < 0 || c.Fetcher.MaxArticles < 0 {
		return fmt.Errorf("fetcher.max_pages and fetcher.max_articles must be >= 0")
	}
	if c.Fetcher.Delay < 0 {
		return fmt.Errorf("fetcher.delay must be >= 0")
	}
	if strings.TrimSpace(c.Fetcher.OutputDir) == "" {
		return fmt.Errorf("fetcher.output_dir is required")
	}
	if c.Fetcher.LinksFile == "" || c.Fetcher.ArticlesFile == "" {
		return fmt.Errorf("fetcher.links_file and fetcher.articles_file are required")
	}
	if c.Fetcher.LinksFile == c.Fetcher.ArticlesFile {
		return fmt.Errorf("fetcher.links_file and fetcher.articles_file must differ")
	}
	if _, err := frontier.ParseEmptyPagePolicy(c.Fetcher.EmptyPagePolicy); err != nil {
		return fmt.Errorf("fetcher.empty_page_policy: %w", err)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Extract.OCREnabled && c.Extract.OCRDPI <= 0 {
		return fmt.Errorf("extract.ocr_dpi must be > 0 when OCR is enabled")
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, local, gcs, memory", c.Storage.Backend)
	}
	if c.Extract.ArchiveDocuments && c.Storage.Backend == BackendNone {
		return fmt.Errorf("extract.archive_documents requires a storage backend")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	if c.Tracing.Enabled && c.Tracing.ProjectID == "" {
		return fmt.Errorf("tracing.project_id must be set when tracing is enabled")
	}
	for name, desc := range c.Sites {
		if desc.Name == "" {
			desc.Name = name
		}
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("sites.%s: %w", name, err)
		}
	}
	return nil
}

// Descriptors returns the configured site descriptors with names filled in from their keys.
func (c Config) Descriptors() []parser.Descriptor {
	out := make([]parser.Descriptor, 0, len(c.Sites))
	for name, desc := range c.Sites {
		if desc.Name == "" {
			desc.Name = name
		}
		out = append(out, desc)
	}
	slices.SortFunc(out, func(a, b parser.Descriptor) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Targets expands the fetcher section into walk targets.
func (c Config) Targets() []crawler.Target {
	return crawler.BuildTargets(crawler.TargetOptions{
		SearchURL:          c.Fetcher.SearchURL,
		StartURLs:          c.Fetcher.StartURLs,
		Keywords:           c.Fetcher.SearchKeywords,
		KeywordPlaceholder: c.Fetcher.KeywordPlaceholder,
	})
}
