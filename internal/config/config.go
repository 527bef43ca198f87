// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendChroma   = "chroma"
	BackendPubSub   = "pubsub"
	EmbedderHash    = "hash"
	EmbedderOpenAI  = "openai"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Ranker     RankerConfig     `mapstructure:"ranker"`
	Server     ServerConfig     `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Seeds            []string `mapstructure:"seeds"`
	Workers          int      `mapstructure:"workers"`
	MaxPages         int      `mapstructure:"max_pages"`
	UserAgent        string   `mapstructure:"user_agent"`
	AllowedDomains   []string `mapstructure:"allowed_domains"`
	BlockedDomains   []string `mapstructure:"blocked_domains"`
	NearDupThreshold int      `mapstructure:"near_dup_threshold"`
	RecrawlSeeds     bool     `mapstructure:"recrawl_seeds"`
}

// PolitenessConfig sets per-domain pacing and robots fetching.
type PolitenessConfig struct {
	DefaultDelay  time.Duration `mapstructure:"default_delay"`
	RobotsTimeout time.Duration `mapstructure:"robots_timeout"`
}

// FetcherConfig configures the HTTP fetcher and the global request budget.
type FetcherConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	GlobalRPS    float64       `mapstructure:"global_rps"`
	GlobalBurst  int           `mapstructure:"global_burst"`
}

// StorageConfig selects the page store and the raw page store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RawBackend  string `mapstructure:"raw_backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
}

// PipelineConfig tunes the ingestion stages and optional bus mirroring.
type PipelineConfig struct {
	ChunkSize         int    `mapstructure:"chunk_size"`
	ChunkOverlap      int    `mapstructure:"chunk_overlap"`
	IndexBatchSize    int    `mapstructure:"index_batch_size"`
	Mirror            string `mapstructure:"mirror"`
	PubSubProject     string `mapstructure:"pubsub_project"`
	PubSubTopicPrefix string `mapstructure:"pubsub_topic_prefix"`
}

// VectorConfig selects the vector store and the embedder.
type VectorConfig struct {
	Backend      string `mapstructure:"backend"`
	ChromaURL    string `mapstructure:"chroma_url"`
	Collection   string `mapstructure:"collection"`
	Embedder     string `mapstructure:"embedder"`
	Dimensions   int    `mapstructure:"dimensions"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	OpenAIModel  string `mapstructure:"openai_model"`
}

// RankerConfig weights the hybrid ranker.
type RankerConfig struct {
	SemanticWeight  float64       `mapstructure:"semantic_weight"`
	LexicalWeight   float64       `mapstructure:"lexical_weight"`
	CrossEncoderURL string        `mapstructure:"cross_encoder_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// Load builds a Config from defaults, the optional file at path and
// CRAWLER_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Development: true, Level: "info"},
		Crawler: CrawlerConfig{
			Seeds:            []string{},
			Workers:          1,
			UserAgent:        "realtime-search-crawler/0.1",
			AllowedDomains:   []string{},
			BlockedDomains:   []string{},
			NearDupThreshold: 3,
		},
		Politeness: PolitenessConfig{DefaultDelay: 500 * time.Millisecond, RobotsTimeout: 10 * time.Second},
		Fetcher: FetcherConfig{
			Timeout:      15 * time.Second,
			MaxRedirects: 5,
			MaxBodyBytes: 10 << 20,
			GlobalBurst:  1,
		},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			SQLitePath: "crawler.db",
			RawBackend: BackendNone,
			LocalDir:   "data/raw",
		},
		Pipeline: PipelineConfig{
			ChunkSize:         1000,
			ChunkOverlap:      150,
			IndexBatchSize:    10,
			Mirror:            BackendNone,
			PubSubTopicPrefix: "crawler-",
		},
		Vector: VectorConfig{
			Backend:    BackendMemory,
			ChromaURL:  "http://localhost:8000",
			Collection: "web_chunks",
			Embedder:   EmbedderHash,
			Dimensions: 384,
		},
		Ranker: RankerConfig{SemanticWeight: 0.7, LexicalWeight: 0.3, Timeout: 10 * time.Second},
		Server: ServerConfig{Port: 8080, ReadHeaderTimeout: 5 * time.Second, ShutdownTimeout: 10 * time.Second},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("crawler.seeds", d.Crawler.Seeds)
	v.SetDefault("crawler.workers", d.Crawler.Workers)
	v.SetDefault("crawler.max_pages", d.Crawler.MaxPages)
	v.SetDefault("crawler.user_agent", d.Crawler.UserAgent)
	v.SetDefault("crawler.allowed_domains", d.Crawler.AllowedDomains)
	v.SetDefault("crawler.blocked_domains", d.Crawler.BlockedDomains)
	v.SetDefault("crawler.near_dup_threshold", d.Crawler.NearDupThreshold)
	v.SetDefault("crawler.recrawl_seeds", d.Crawler.RecrawlSeeds)

	v.SetDefault("politeness.default_delay", d.Politeness.DefaultDelay)
	v.SetDefault("politeness.robots_timeout", d.Politeness.RobotsTimeout)

	v.SetDefault("fetcher.timeout", d.Fetcher.Timeout)
	v.SetDefault("fetcher.max_redirects", d.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_bytes", d.Fetcher.MaxBodyBytes)
	v.SetDefault("fetcher.global_rps", d.Fetcher.GlobalRPS)
	v.SetDefault("fetcher.global_burst", d.Fetcher.GlobalBurst)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.raw_backend", d.Storage.RawBackend)
	v.SetDefault("storage.local_dir", d.Storage.LocalDir)
	v.SetDefault("storage.gcs_bucket", d.Storage.GCSBucket)

	v.SetDefault("pipeline.chunk_size", d.Pipeline.ChunkSize)
	v.SetDefault("pipeline.chunk_overlap", d.Pipeline.ChunkOverlap)
	v.SetDefault("pipeline.index_batch_size", d.Pipeline.IndexBatchSize)
	v.SetDefault("pipeline.mirror", d.Pipeline.Mirror)
	v.SetDefault("pipeline.pubsub_project", d.Pipeline.PubSubProject)
	v.SetDefault("pipeline.pubsub_topic_prefix", d.Pipeline.PubSubTopicPrefix)

	v.SetDefault("vector.backend", d.Vector.Backend)
	v.SetDefault("vector.chroma_url", d.Vector.ChromaURL)
	v.SetDefault("vector.collection", d.Vector.Collection)
	v.SetDefault("vector.embedder", d.Vector.Embedder)
	v.SetDefault("vector.dimensions", d.Vector.Dimensions)
	v.SetDefault("vector.openai_api_key", d.Vector.OpenAIAPIKey)
	v.SetDefault("vector.openai_model", d.Vector.OpenAIModel)

	v.SetDefault("ranker.semantic_weight", d.Ranker.SemanticWeight)
	v.SetDefault("ranker.lexical_weight", d.Ranker.LexicalWeight)
	v.SetDefault("ranker.cross_encoder_url", d.Ranker.CrossEncoderURL)
	v.SetDefault("ranker.timeout", d.Ranker.Timeout)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.api_key", d.Server.APIKey)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Crawler.Workers > 0, "crawler.workers must be > 0")
	check(c.Crawler.MaxPages >= 0, "crawler.max_pages must be >= 0")
	check(c.Crawler.NearDupThreshold >= 0 && c.Crawler.NearDupThreshold <= 64,
		"crawler.near_dup_threshold must be between 0 and 64")
	check(c.Crawler.UserAgent != "", "crawler.user_agent must be set")
	check(c.Politeness.DefaultDelay >= 0, "politeness.default_delay must be >= 0")
	check(c.Fetcher.Timeout > 0, "fetcher.timeout must be > 0")
	check(c.Fetcher.MaxRedirects >= 0, "fetcher.max_redirects must be >= 0")
	check(c.Fetcher.GlobalRPS >= 0, "fetcher.global_rps must be >= 0")

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		check(c.Storage.SQLitePath != "", "storage.sqlite_path must be set for the sqlite backend")
	case BackendPostgres:
		check(c.Storage.PostgresDSN != "", "storage.postgres_dsn must be set for the postgres backend")
	default:
		check(false, "storage.backend %q is not one of memory, sqlite, postgres", c.Storage.Backend)
	}
	switch c.Storage.RawBackend {
	case BackendNone, BackendMemory:
	case BackendSQLite:
		check(c.Storage.Backend == BackendSQLite, "storage.raw_backend sqlite requires storage.backend sqlite")
	case BackendLocal:
		check(c.Storage.LocalDir != "", "storage.local_dir must be set for the local raw backend")
	case BackendGCS:
		check(c.Storage.GCSBucket != "", "storage.gcs_bucket must be set for the gcs raw backend")
	default:
		check(false, "storage.raw_backend %q is not one of none, memory, sqlite, local, gcs", c.Storage.RawBackend)
	}

	check(c.Pipeline.ChunkSize > 0, "pipeline.chunk_size must be > 0")
	check(c.Pipeline.ChunkOverlap >= 0 && c.Pipeline.ChunkOverlap < c.Pipeline.ChunkSize,
		"pipeline.chunk_overlap must be >= 0 and < pipeline.chunk_size")
	check(c.Pipeline.IndexBatchSize > 0, "pipeline.index_batch_size must be > 0")
	switch c.Pipeline.Mirror {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		check(c.Pipeline.PubSubProject != "", "pipeline.pubsub_project must be set when mirroring to pubsub")
	default:
		check(false, "pipeline.mirror %q is not one of none, memory, pubsub", c.Pipeline.Mirror)
	}

	switch c.Vector.Backend {
	case BackendMemory:
	case BackendChroma:
		check(c.Vector.ChromaURL != "", "vector.chroma_url must be set for the chroma backend")
		check(c.Vector.Collection != "", "vector.collection must be set for the chroma backend")
		check(c.Vector.Embedder == EmbedderOpenAI, "vector.embedder must be openai for the chroma backend")
	default:
		check(false, "vector.backend %q is not one of memory, chroma", c.Vector.Backend)
	}
	switch c.Vector.Embedder {
	case EmbedderHash:
		check(c.Vector.Dimensions > 0, "vector.dimensions must be > 0")
	case EmbedderOpenAI:
		check(c.Vector.OpenAIAPIKey != "", "vector.openai_api_key must be set for the openai embedder")
	default:
		check(false, "vector.embedder %q is not one of hash, openai", c.Vector.Embedder)
	}

	check(c.Ranker.SemanticWeight >= 0 && c.Ranker.LexicalWeight >= 0, "ranker weights must be >= 0")
	check(c.Ranker.SemanticWeight+c.Ranker.LexicalWeight > 0, "ranker weights must not both be 0")

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")
	return errors.Join(errs...)
}
