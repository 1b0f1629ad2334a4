// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, BM25, Index, Search, Corpus, Postgres, Kafka, Redis, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	BM25      BM25Config      `yaml:"bm25"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"readTimeout"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
	CORSOrigins     []string        `yaml:"corsOrigins"`
}

// RateLimitConfig bounds requests per client. Each client gets Requests
// tokens per Window, refilled continuously.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// BM25Config holds the scoring and index-construction parameters. They are
// fixed when an index is fitted and saved with it.
type BM25Config struct {
	K1        float64 `yaml:"k1"`
	B         float64 `yaml:"b"`
	Lowercase bool    `yaml:"lowercase"`
	BlockSize int     `yaml:"blockSize"`
	Tokenizer string  `yaml:"tokenizer"`
	Workers   int     `yaml:"workers"`
}

// IndexConfig locates the saved index file.
type IndexConfig struct {
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxResults   int           `yaml:"maxResults"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	CacheEnabled bool          `yaml:"cacheEnabled"`
}

// CorpusConfig says where the indexer reads documents from.
type CorpusConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
	Query  string `yaml:"query"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
	IndexEvents     string `yaml:"indexEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig controls event batching on the producer side and
// snapshotting on the aggregating side.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				Requests: 100,
				Window:   time.Second,
			},
		},
		BM25: BM25Config{
			K1:        1.5,
			B:         0.75,
			BlockSize: 128,
			Tokenizer: "unicode",
		},
		Index: IndexConfig{
			Path:        "data/index.bm25",
			Compression: "zstd",
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   1000,
			QueryTimeout: 2 * time.Second,
			CacheEnabled: true,
		},
		Corpus: CorpusConfig{
			Source: "file",
			Path:   "data/corpus.txt",
			Format: "lines",
			Query:  "SELECT id, body FROM documents ORDER BY id",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bm25search",
			User:            "bm25search",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "bm25search-analytics",
			Topics: KafkaTopics{
				AnalyticsEvents: "search-analytics",
				IndexEvents:     "index-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if !(c.BM25.K1 >= 0) {
		errs = append(errs, fmt.Errorf("bm25.k1 must be non-negative, got %v", c.BM25.K1))
	}
	if !(c.BM25.B >= 0 && c.BM25.B <= 1) {
		errs = append(errs, fmt.Errorf("bm25.b must be in [0, 1], got %v", c.BM25.B))
	}
	if c.BM25.BlockSize < 1 {
		errs = append(errs, fmt.Errorf("bm25.blockSize must be positive, got %d", c.BM25.BlockSize))
	}
	if c.BM25.Workers < 0 {
		errs = append(errs, fmt.Errorf("bm25.workers must not be negative, got %d", c.BM25.Workers))
	}
	switch c.Index.Compression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("index.compression must be none, lz4 or zstd, got %q", c.Index.Compression))
	}
	if c.Search.DefaultLimit < 1 {
		errs = append(errs, fmt.Errorf("search.defaultLimit must be positive, got %d", c.Search.DefaultLimit))
	}
	if c.Search.MaxResults < 0 {
		errs = append(errs, fmt.Errorf("search.maxResults must not be negative, got %d", c.Search.MaxResults))
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Requests < 1 || c.Server.RateLimit.Window <= 0) {
		errs = append(errs, fmt.Errorf("server.rateLimit needs positive requests and window, got %d per %v",
			c.Server.RateLimit.Requests, c.Server.RateLimit.Window))
	}
	if c.Analytics.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Errorf("analytics.snapshotInterval must be positive, got %v", c.Analytics.SnapshotInterval))
	}
	switch c.Corpus.Source {
	case "file":
		if c.Corpus.Format != "lines" && c.Corpus.Format != "jsonl" {
			errs = append(errs, fmt.Errorf("corpus.format must be lines or jsonl, got %q", c.Corpus.Format))
		}
	case "postgres":
		if strings.TrimSpace(c.Corpus.Query) == "" {
			errs = append(errs, errors.New("corpus.query is required for the postgres source"))
		}
	default:
		errs = append(errs, fmt.Errorf("corpus.source must be file or postgres, got %q", c.Corpus.Source))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides reads BMS_* environment variables and overrides the
// corresponding config fields. Malformed numbers are reported rather than
// ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setInt("BMS_SERVER_PORT", &cfg.Server.Port)
	setBool("BMS_SERVER_RATE_LIMIT_ENABLED", &cfg.Server.RateLimit.Enabled)
	setInt("BMS_SERVER_RATE_LIMIT_REQUESTS", &cfg.Server.RateLimit.Requests)
	if v := os.Getenv("BMS_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	setFloat("BMS_BM25_K1", &cfg.BM25.K1)
	setFloat("BMS_BM25_B", &cfg.BM25.B)
	setBool("BMS_BM25_LOWERCASE", &cfg.BM25.Lowercase)
	setInt("BMS_BM25_BLOCK_SIZE", &cfg.BM25.BlockSize)
	setString("BMS_BM25_TOKENIZER", &cfg.BM25.Tokenizer)
	setInt("BMS_BM25_WORKERS", &cfg.BM25.Workers)
	setString("BMS_INDEX_PATH", &cfg.Index.Path)
	setString("BMS_INDEX_COMPRESSION", &cfg.Index.Compression)
	setInt("BMS_SEARCH_DEFAULT_LIMIT", &cfg.Search.DefaultLimit)
	setInt("BMS_SEARCH_MAX_RESULTS", &cfg.Search.MaxResults)
	setBool("BMS_SEARCH_CACHE_ENABLED", &cfg.Search.CacheEnabled)
	setString("BMS_CORPUS_SOURCE", &cfg.Corpus.Source)
	setString("BMS_CORPUS_PATH", &cfg.Corpus.Path)
	setString("BMS_CORPUS_FORMAT", &cfg.Corpus.Format)
	setString("BMS_CORPUS_QUERY", &cfg.Corpus.Query)
	setString("BMS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("BMS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("BMS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("BMS_POSTGRES_USER", &cfg.Postgres.User)
	setString("BMS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("BMS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	setBool("BMS_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	if v := os.Getenv("BMS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("BMS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("BMS_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("BMS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("BMS_LOGGING_FORMAT", &cfg.Logging.Format)
	setBool("BMS_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("BMS_METRICS_PORT", &cfg.Metrics.Port)
	if v := os.Getenv("BMS_SEARCH_QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BMS_SEARCH_QUERY_TIMEOUT: %w", err))
		} else {
			cfg.Search.QueryTimeout = d
		}
	}
	return errors.Join(errs...)
}
