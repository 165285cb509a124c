// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Index, Search, Postgres, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Engine  string `yaml:"engine"`
	DataDir string `yaml:"dataDir"`
}

// IndexConfig controls refresh cadence, compaction and segment flushes of
// every collection.
type IndexConfig struct {
	DefaultName     string        `yaml:"defaultName"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	CompactRatio    float64       `yaml:"compactRatio"`
	SegmentDir      string        `yaml:"segmentDir"`
	SegmentMaxSize  int64         `yaml:"segmentMaxSize"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxResults   int           `yaml:"maxResults"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    float64       `yaml:"rateLimit"`
	RateBurst    int           `yaml:"rateBurst"`
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
	BookChanges     string `yaml:"bookChanges"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and result-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig sizes the search-event collector and the snapshot cadence
// of the aggregator.
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
// overrides and validates the result.
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
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Engine:  "badger",
			DataDir: "./data",
		},
		Index: IndexConfig{
			DefaultName:     "books",
			RefreshInterval: time.Second,
			FlushInterval:   time.Minute,
			CompactRatio:    0.25,
			SegmentDir:      "segments",
			SegmentMaxSize:  64 << 20,
		},
		Search: SearchConfig{
			DefaultLimit: 0,
			MaxResults:   1000,
			Timeout:      5 * time.Second,
			RateLimit:    100,
			RateBurst:    200,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bookshelf_development",
			User:            "bookshelf",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "bookshelf-indexer",
			Topics: KafkaTopics{
				BookChanges:     "book-changes",
				AnalyticsEvents: "search-analytics",
			},
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    time.Second,
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

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "memory", "badger", "bolt":
	default:
		return fmt.Errorf("config: storage.engine must be memory, badger or bolt, got %q", c.Storage.Engine)
	}
	if c.Storage.Engine != "memory" && c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.dataDir is required for engine %s", c.Storage.Engine)
	}
	if c.Index.CompactRatio < 0 || c.Index.CompactRatio > 1 {
		return fmt.Errorf("config: index.compactRatio must be within [0,1], got %v", c.Index.CompactRatio)
	}
	if c.Index.RefreshInterval < 0 || c.Index.FlushInterval < 0 {
		return fmt.Errorf("config: index intervals must not be negative")
	}
	if c.Search.DefaultLimit < 0 || c.Search.MaxResults < 0 {
		return fmt.Errorf("config: search limits must not be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required when kafka is enabled")
	}
	if c.Analytics.BufferSize < 0 || c.Analytics.BatchSize < 0 {
		return fmt.Errorf("config: analytics sizes must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	return nil
}

// applyEnvOverrides reads BS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt("BS_SERVER_PORT", &cfg.Server.Port)
	setString("BS_STORAGE_ENGINE", &cfg.Storage.Engine)
	setString("BS_STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	setString("BS_INDEX_DEFAULT_NAME", &cfg.Index.DefaultName)
	setDuration("BS_INDEX_REFRESH_INTERVAL", &cfg.Index.RefreshInterval)
	setDuration("BS_INDEX_FLUSH_INTERVAL", &cfg.Index.FlushInterval)
	if v := os.Getenv("BS_INDEX_COMPACT_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Index.CompactRatio = ratio
		}
	}
	setInt("BS_SEARCH_DEFAULT_LIMIT", &cfg.Search.DefaultLimit)
	setInt("BS_SEARCH_MAX_RESULTS", &cfg.Search.MaxResults)
	setString("BS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("BS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("BS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("BS_POSTGRES_USER", &cfg.Postgres.User)
	setString("BS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("BS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("BS_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("BS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("BS_KAFKA_TOPIC_BOOK_CHANGES", &cfg.Kafka.Topics.BookChanges)
	setString("BS_KAFKA_TOPIC_ANALYTICS", &cfg.Kafka.Topics.AnalyticsEvents)
	if v := os.Getenv("BS_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	setString("BS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("BS_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("BS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("BS_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("BS_METRICS_PORT", &cfg.Metrics.Port)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
