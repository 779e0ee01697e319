// Package config provides application configuration with multi-source
// priority: environment variables (SIFT_*) override the config file
// (~/.sift/config.yaml), which overrides built-in defaults.
//
// Validation uses sentinel errors so callers can classify failures with
// errors.Is. Configuration failures are fatal at startup; the service never
// runs in a silently degraded mode because of a bad backend or credential.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Backend and provider identifiers recognized in configuration.
const (
	BackendPostgres = "postgres"
	BackendLocal    = "local"

	WebProviderTavily  = "tavily"
	WebProviderSearxng = "searxng"
)

// Config stores the full application configuration.
type Config struct {
	Backend string `mapstructure:"backend"` // "postgres" or "local"

	Embedder EmbedderConfig `mapstructure:"embedder"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Local    LocalConfig    `mapstructure:"local"`
	Chunking ChunkingConfig `mapstructure:"chunking"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Search   SearchConfig   `mapstructure:"search"`
	Web      WebConfig      `mapstructure:"web"`
	Format   FormatConfig   `mapstructure:"format"`
	Server   ServerConfig   `mapstructure:"server"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// EmbedderConfig selects the embedding model treated as a black box by the
// rest of the system.
type EmbedderConfig struct {
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	// CompletionModel, when set, enables answer generation on /search.
	CompletionModel string `mapstructure:"completion_model"`
}

// PostgresConfig holds connection settings for the postgres backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LocalConfig holds settings for the embedded backend.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// ChunkingConfig controls how document content is split.
type ChunkingConfig struct {
	MaxWords     int `mapstructure:"max_words"`
	OverlapWords int `mapstructure:"overlap_words"`
}

// IngestConfig controls ingestion parallelism and batching.
type IngestConfig struct {
	MaxWorkers int    `mapstructure:"max_workers"`
	BatchSize  int    `mapstructure:"batch_size"`
	StateDB    string `mapstructure:"state_db"`
}

// SearchConfig controls hybrid retrieval.
type SearchConfig struct {
	MaxChunks      int     `mapstructure:"max_chunks"`
	MinScore       float64 `mapstructure:"min_score"`
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	KeywordWeight  float64 `mapstructure:"keyword_weight"`
	RerankTopN     int     `mapstructure:"rerank_top_n"`
}

// WebConfig controls the web-search fallback.
type WebConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Provider         string `mapstructure:"provider"`
	APIKey           string `mapstructure:"api_key"`
	Endpoint         string `mapstructure:"endpoint"` // searxng instance URL
	MaxResults       int    `mapstructure:"max_results"`
	MaxCrawlURLs     int    `mapstructure:"max_crawl_urls"`
	MaxContentPerURL int    `mapstructure:"max_content_per_url"`
	MaxTotalContent  int    `mapstructure:"max_total_content"`
}

// FormatConfig controls context formatting.
type FormatConfig struct {
	Style            string `mapstructure:"style"` // plain, structured, tabular, mixed
	MaxItemChars     int    `mapstructure:"max_item_chars"`
	MaxContextTokens int    `mapstructure:"max_context_tokens"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from defaults, the config file and environment.
// A missing config file is not an error; validation happens separately so
// commands can validate only what they need.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configDir, err := Dir()
	if err != nil {
		return nil, err
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.applyDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Dir returns the sift config directory, creating it with 0750 permissions.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".sift")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendLocal)

	v.SetDefault("embedder.model", "text-embedding-004")
	v.SetDefault("embedder.dimension", 768)
	v.SetDefault("embedder.completion_model", "")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "sift")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "sift")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("local.dir", defaultUnder("index"))

	v.SetDefault("chunking.max_words", 300)
	v.SetDefault("chunking.overlap_words", 50)

	v.SetDefault("ingest.max_workers", 8)
	v.SetDefault("ingest.batch_size", 32)
	v.SetDefault("ingest.state_db", defaultUnder("state.db"))

	v.SetDefault("search.max_chunks", 8)
	v.SetDefault("search.min_score", 0.35)
	v.SetDefault("search.semantic_weight", 0.7)
	v.SetDefault("search.keyword_weight", 0.3)
	v.SetDefault("search.rerank_top_n", 0)

	v.SetDefault("web.enabled", false)
	v.SetDefault("web.provider", WebProviderTavily)
	v.SetDefault("web.max_results", 5)
	v.SetDefault("web.max_crawl_urls", 3)
	v.SetDefault("web.max_content_per_url", 8000)
	v.SetDefault("web.max_total_content", 20000)

	v.SetDefault("format.style", "mixed")
	v.SetDefault("format.max_item_chars", 4000)
	v.SetDefault("format.max_context_tokens", 6000)

	v.SetDefault("server.addr", "127.0.0.1:8647")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// defaultUnder builds a default path under the config directory without
// failing at default-registration time; Load surfaces the real error later
// if the home directory is unavailable.
func defaultUnder(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".sift", name)
}
