// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCRAPER_HTTP_RETRY_COUNT=5.
const EnvPrefix = "SCRAPER"

// WorkersPerCPU sizes the worker pools when pipeline.max_workers is "auto".
const WorkersPerCPU = 5

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Datasets DatasetsConfig `mapstructure:"datasets"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CatalogConfig locates the catalog being scraped.
type CatalogConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	RootURL        string `mapstructure:"root_url"`
	LanguageSuffix string `mapstructure:"language_suffix"`
}

// HTTPConfig configures page fetching and its retry policy.
type HTTPConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	RateLimitRPS  float64       `mapstructure:"rate_limit_rps"`
	RateBurst     int           `mapstructure:"rate_limit_burst"`
}

// PipelineConfig sizes the stage worker pools and queues.
type PipelineConfig struct {
	MaxWorkers  string        `mapstructure:"max_workers"`
	Executor    string        `mapstructure:"executor"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	Merge       bool          `mapstructure:"merge"`
}

// DatasetsConfig names the persisted datasets.
type DatasetsConfig struct {
	StudyPrograms string `mapstructure:"study_programs"`
	Curricula     string `mapstructure:"curricula"`
	Courses       string `mapstructure:"courses"`
	Result        string `mapstructure:"result"`
}

// StorageConfig selects where datasets are written.
type StorageConfig struct {
	Backend        string         `mapstructure:"backend"`
	Format         string         `mapstructure:"format"`
	Prefix         string         `mapstructure:"prefix"`
	PartitionByRun bool           `mapstructure:"partition_by_run"`
	Local          LocalConfig    `mapstructure:"local"`
	GCS            GCSConfig      `mapstructure:"gcs"`
	MinIO          MinIOConfig    `mapstructure:"minio"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// MinIOConfig configures the S3 compatible backend.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// PostgresConfig configures the table backend.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// PublishConfig configures the run notification.
type PublishConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// CacheConfig configures the on-disk page cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Dir     string        `mapstructure:"dir"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("catalog.base_url", "https://finki.ukim.mk")
	v.SetDefault("catalog.root_url", "https://finki.ukim.mk/mk/dodiplomski-studii")
	v.SetDefault("catalog.language_suffix", "mk")
	v.SetDefault("http.user_agent", "catalog-scraper/1.0")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.retry_count", 3)
	v.SetDefault("http.retry_delay", "2s")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("pipeline.max_workers", "auto")
	v.SetDefault("pipeline.executor", "process")
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.lock_timeout", "30s")
	v.SetDefault("pipeline.merge", true)
	v.SetDefault("datasets.study_programs", "study_programs")
	v.SetDefault("datasets.curricula", "curricula")
	v.SetDefault("datasets.courses", "courses")
	v.SetDefault("datasets.result", "result")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.format", "csv")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.partition_by_run", false)
	v.SetDefault("storage.local.dir", "data/output")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.table_prefix", "")
	v.SetDefault("publish.backend", "none")
	v.SetDefault("publish.project_id", "")
	v.SetDefault("publish.topic", "")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.dir", ".cache/pages")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	for key, raw := range map[string]string{
		"catalog.base_url": c.Catalog.BaseURL,
		"catalog.root_url": c.Catalog.RootURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute url, got %q", key, raw)
		}
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.RetryCount < 1 {
		return fmt.Errorf("http.retry_count must be >= 1")
	}
	if c.HTTP.RetryDelay < 0 {
		return fmt.Errorf("http.retry_delay must be >= 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if _, err := c.Workers(); err != nil {
		return err
	}
	switch c.Pipeline.Executor {
	case "process", "thread":
	default:
		return fmt.Errorf("pipeline.executor must be process or thread, got %q", c.Pipeline.Executor)
	}
	if c.Pipeline.QueueDepth < 1 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Pipeline.LockTimeout <= 0 {
		return fmt.Errorf("pipeline.lock_timeout must be > 0")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Publish.validate(); err != nil {
		return err
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 when the cache is enabled")
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Format {
	case "csv", "avro":
	default:
		return fmt.Errorf("storage.format must be csv or avro, got %q", s.Format)
	}
	switch s.Backend {
	case "memory":
	case "local":
		if s.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required for the local backend")
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case "minio":
		if s.MinIO.Endpoint == "" || s.MinIO.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required for the minio backend")
		}
	case "postgres":
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", s.Backend)
	}
	return nil
}

func (p PublishConfig) validate() error {
	switch p.Backend {
	case "none", "":
		return nil
	case "memory":
	case "pubsub":
		if p.ProjectID == "" {
			return fmt.Errorf("publish.project_id is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown publish.backend %q", p.Backend)
	}
	if p.Topic == "" {
		return fmt.Errorf("publish.topic is required when publishing is enabled")
	}
	return nil
}

// Workers resolves pipeline.max_workers, expanding "auto" to WorkersPerCPU per logical CPU.
func (c Config) Workers() (int, error) {
	raw := strings.TrimSpace(c.Pipeline.MaxWorkers)
	if raw == "" || strings.EqualFold(raw, "auto") {
		return WorkersPerCPU * runtime.NumCPU(), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("pipeline.max_workers must be a positive integer or auto, got %q", raw)
	}
	return n, nil
}
