package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
)

// EnvPrefix 环境变量覆盖前缀, e.g. INGEST_DB_DSN
const EnvPrefix = "INGEST_"

type Config struct {
	App      AppConfig      `toml:"app" envPrefix:"APP_"`
	Worker   WorkerConfig   `toml:"worker" envPrefix:"WORKER_"`
	Database DatabaseConfig `toml:"database" envPrefix:"DB_"`
	Queue    QueueConfig    `toml:"queue" envPrefix:"QUEUE_"`
	Blob     BlobConfig     `toml:"blob" envPrefix:"BLOB_"`
	Redis    RedisConfig    `toml:"redis" envPrefix:"REDIS_"`
	AWS      AWSConfig      `toml:"aws" envPrefix:"AWS_"`
	Cache    CacheConfig    `toml:"cache" envPrefix:"CACHE_"`
}

type AppConfig struct {
	LogLevel         string `toml:"log_level" env:"LOG_LEVEL"`
	Pretty           bool   `toml:"pretty" env:"PRETTY"`
	WorkerID         string `toml:"worker_id" env:"WORKER_ID"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds" env:"HEARTBEAT_SECONDS"`
	// HTTPAddr empty disables the status API.
	HTTPAddr        string `toml:"http_addr" env:"HTTP_ADDR"`
	ShutdownSeconds int    `toml:"shutdown_seconds" env:"SHUTDOWN_SECONDS"`
}

type WorkerConfig struct {
	MaxAttempts       int      `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	CapSeconds        int      `toml:"cap_seconds" env:"CAP_SECONDS"`
	BatchSize         int      `toml:"batch_size" env:"BATCH_SIZE"`
	WaitSeconds       int      `toml:"wait_seconds" env:"WAIT_SECONDS"`
	SnapshotPrefix    string   `toml:"snapshot_prefix" env:"SNAPSHOT_PREFIX"`
	PortfolioPrefixes []string `toml:"portfolio_prefixes" env:"PORTFOLIO_PREFIXES"`
}

type DatabaseConfig struct {
	Driver             string `toml:"driver" env:"DRIVER"`
	Path               string `toml:"path" env:"PATH"`
	DSN                string `toml:"dsn" env:"DSN"`
	MaxOpenConns       int    `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns       int    `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetimeSec int    `toml:"conn_max_lifetime_seconds" env:"CONN_MAX_LIFETIME_SECONDS"`
}

type QueueConfig struct {
	Driver string `toml:"driver" env:"DRIVER"`
	// Name is the stream name for redis or the queue URL for sqs.
	Name              string `toml:"name" env:"NAME"`
	DeadLetter        string `toml:"dead_letter" env:"DEAD_LETTER"`
	Group             string `toml:"group" env:"GROUP"`
	VisibilitySeconds int    `toml:"visibility_seconds" env:"VISIBILITY_SECONDS"`
}

type BlobConfig struct {
	Driver string `toml:"driver" env:"DRIVER"`
	Dir    string `toml:"dir" env:"DIR"`
	Bucket string `toml:"bucket" env:"BUCKET"`
}

type RedisConfig struct {
	Addr     string `toml:"addr" env:"ADDR"`
	Password string `toml:"password" env:"PASSWORD"`
	DB       int    `toml:"db" env:"DB"`
	Prefix   string `toml:"prefix" env:"PREFIX"`
}

type AWSConfig struct {
	Region   string `toml:"region" env:"REGION"`
	Endpoint string `toml:"endpoint" env:"ENDPOINT"`
}

type CacheConfig struct {
	TTLSeconds int   `toml:"ttl_seconds" env:"TTL_SECONDS"`
	MaxItems   int64 `toml:"max_items" env:"MAX_ITEMS"`
}

// Load reads the TOML file at path (optional when empty), applies
// INGEST_* environment overrides, then defaults and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return finish(&cfg, os.Environ())
}

// Parse is Load for an in-memory document and explicit environment.
func Parse(doc string, environ []string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg, environ)
}

func finish(cfg *Config, environ []string) (*Config, error) {
	opts := env.Options{Prefix: EnvPrefix, Environment: toMap(environ)}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func toMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.App.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.App.HeartbeatSeconds <= 0 {
		cfg.App.HeartbeatSeconds = 30
	}
	if cfg.App.ShutdownSeconds <= 0 {
		cfg.App.ShutdownSeconds = 10
	}

	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = 5
	}
	if cfg.Worker.CapSeconds <= 0 {
		cfg.Worker.CapSeconds = 900
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 10
	}
	if cfg.Worker.WaitSeconds <= 0 {
		cfg.Worker.WaitSeconds = 20
	}
	if cfg.Worker.SnapshotPrefix == "" {
		cfg.Worker.SnapshotPrefix = "positions/"
	}
	if len(cfg.Worker.PortfolioPrefixes) == 0 {
		cfg.Worker.PortfolioPrefixes = []string{"uploads", "positions"}
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "data/pfingest.db"
	}

	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "redis"
	}
	if cfg.Queue.Driver == "redis" {
		if cfg.Queue.Name == "" {
			cfg.Queue.Name = "pfingest:ingest"
		}
		if cfg.Queue.DeadLetter == "" {
			cfg.Queue.DeadLetter = cfg.Queue.Name + ":dlq"
		}
		if cfg.Queue.Group == "" {
			cfg.Queue.Group = "ingest"
		}
	}
	if cfg.Queue.VisibilitySeconds <= 0 {
		cfg.Queue.VisibilitySeconds = 300
	}

	if cfg.Blob.Driver == "" {
		cfg.Blob.Driver = "fs"
	}
	if cfg.Blob.Driver == "fs" && cfg.Blob.Dir == "" {
		cfg.Blob.Dir = "data/blobs"
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "pfingest"
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 5
	}
	if cfg.Cache.MaxItems <= 0 {
		cfg.Cache.MaxItems = 10_000
	}
}

func validate(cfg *Config) error {
	cfg.Worker.PortfolioPrefixes = normalizePrefixes(cfg.Worker.PortfolioPrefixes)
	if len(cfg.Worker.PortfolioPrefixes) == 0 {
		return errors.New("worker.portfolio_prefixes is empty")
	}

	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			return errors.New("database.dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("database.driver %q: want sqlite or postgres", cfg.Database.Driver)
	}

	switch cfg.Queue.Driver {
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return errors.New("redis.addr empty but queue.driver is redis")
		}
	case "sqs":
		if cfg.Queue.Name == "" || cfg.Queue.DeadLetter == "" {
			return errors.New("queue.name and queue.dead_letter must be sqs queue urls")
		}
	default:
		return fmt.Errorf("queue.driver %q: want redis or sqs", cfg.Queue.Driver)
	}
	if cfg.Queue.Name == cfg.Queue.DeadLetter {
		return errors.New("queue.dead_letter must differ from queue.name")
	}

	switch cfg.Blob.Driver {
	case "fs":
	case "s3":
		if strings.TrimSpace(cfg.Blob.Bucket) == "" {
			return errors.New("blob.bucket empty but driver is s3")
		}
	default:
		return fmt.Errorf("blob.driver %q: want fs or s3", cfg.Blob.Driver)
	}
	return nil
}

func normalizePrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, p := range in {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.App.HeartbeatSeconds) * time.Second
}

func (c *Config) PollWait() time.Duration {
	return time.Duration(c.Worker.WaitSeconds) * time.Second
}

func (c *Config) Visibility() time.Duration {
	return time.Duration(c.Queue.VisibilitySeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownSeconds) * time.Second
}
