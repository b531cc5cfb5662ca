// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Store, Tokenizer, Index, Search,
// etc.).
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
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of API requests per minute allowed from one
	// client address. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables the document table.
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
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentEvents string `yaml:"documentEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// StoreConfig selects the key-value backend holding the index and tunes how
// round trips are issued against it.
type StoreConfig struct {
	Backend        string               `yaml:"backend"`
	Prefix         string               `yaml:"prefix"`
	AtomicBatches  bool                 `yaml:"atomicBatches"`
	OpTimeout      time.Duration        `yaml:"opTimeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// CircuitBreakerConfig controls when store round trips are short-circuited.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// TokenizerConfig is the normalization shared by indexing and querying.
type TokenizerConfig struct {
	StopWords     []string `yaml:"stopWords"`
	MinLength     int      `yaml:"minLength"`
	MaxInputBytes int      `yaml:"maxInputBytes"`
	Stemmer       string   `yaml:"stemmer"`
}

// IndexConfig controls batch retries and backfill parallelism.
type IndexConfig struct {
	RetryAttempts       int           `yaml:"retryAttempts"`
	RetryInitialDelay   time.Duration `yaml:"retryInitialDelay"`
	BackfillConcurrency int           `yaml:"backfillConcurrency"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	Timeout      time.Duration `yaml:"timeout"`
	ScratchTTL   time.Duration `yaml:"scratchTTL"`
	CacheEnabled bool          `yaml:"cacheEnabled"`
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

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
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
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "kvsearch",
			User:            "kvsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "kvsearch-indexer",
			Topics: KafkaTopics{
				DocumentEvents: "document-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Store: StoreConfig{
			Backend:   "redis",
			Prefix:    "idx:",
			OpTimeout: 2 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Tokenizer: TokenizerConfig{
			MinLength:     2,
			MaxInputBytes: 1 << 20,
			Stemmer:       "none",
		},
		Index: IndexConfig{
			RetryAttempts:       1,
			RetryInitialDelay:   100 * time.Millisecond,
			BackfillConcurrency: 8,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 10,
			Timeout:      5 * time.Second,
			ScratchTTL:   30 * time.Second,
			CacheEnabled: true,
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
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.backend must be redis or memory, got %q", c.Store.Backend))
	}
	if c.Store.Prefix == "" {
		errs = append(errs, errors.New("store.prefix must not be empty"))
	}
	switch c.Tokenizer.Stemmer {
	case "", "none", "snowball":
	default:
		errs = append(errs, fmt.Errorf("tokenizer.stemmer must be none or snowball, got %q", c.Tokenizer.Stemmer))
	}
	if c.Tokenizer.MinLength < 1 {
		errs = append(errs, errors.New("tokenizer.minLength must be at least 1"))
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxResults < c.Search.DefaultLimit {
		errs = append(errs, fmt.Errorf("search limits invalid: defaultLimit=%d maxResults=%d", c.Search.DefaultLimit, c.Search.MaxResults))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rateLimit must not be negative"))
	}
	if c.Index.RetryAttempts < 1 {
		errs = append(errs, errors.New("index.retryAttempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides reads KVS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KVS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KVS_SERVER_RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = limit
		}
	}
	if v := os.Getenv("KVS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("KVS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("KVS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("KVS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("KVS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("KVS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KVS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KVS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KVS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("KVS_STORE_PREFIX"); v != "" {
		cfg.Store.Prefix = v
	}
	if v := os.Getenv("KVS_TOKENIZER_STEMMER"); v != "" {
		cfg.Tokenizer.Stemmer = v
	}
	if v := os.Getenv("KVS_SEARCH_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Search.CacheEnabled = enabled
		}
	}
	if v := os.Getenv("KVS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KVS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
