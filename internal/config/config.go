// Package config centralizes how codedrop reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Backend names accepted by METADATA_BACKEND and BLOB_BACKEND.
const (
	MetadataMemory   = "memory"
	MetadataRedis    = "redis"
	MetadataPostgres = "postgres"

	BlobFS = "fs"
	BlobS3 = "s3"
)

// Config represents runtime configuration for every codedrop process.
type Config struct {
	Address   string
	LogLevel  string
	LogFormat string

	TTL          time.Duration
	MaxTextBytes int
	// MaxFileBytes caps uploads; zero means unlimited.
	MaxFileBytes int64

	MetadataBackend string
	BlobBackend     string
	RedisURL        string
	DatabaseURL     string
	DataDir         string
	MemoryCapacity  int

	S3 S3Config

	PresignTTL     time.Duration
	StoreTimeout   time.Duration
	SweepSpec      string
	SweepInProcess bool
	ReconcileGrace time.Duration
	CronSecret     string

	WorkerConcurrency int
}

// S3Config holds the object store connection.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
	// Lifecycle asks the bucket to expire uploads itself.
	Lifecycle bool
}

// LifecycleDays converts ttl to the whole number of days a bucket lifecycle
// rule can express, rounding up.
func (c *Config) LifecycleDays() int {
	if !c.S3.Lifecycle || c.BlobBackend != BlobS3 {
		return 0
	}
	days := int((c.TTL + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return days
}

const (
	defaultAddress        = ":8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultTTL            = 24 * time.Hour
	defaultMaxTextBytes   = 100000
	defaultDataDir        = "./data"
	defaultMemoryCapacity = 10000
	defaultS3Region       = "us-east-1"
	defaultS3Bucket       = "codedrop"
	defaultPresignTTL     = 15 * time.Minute
	defaultStoreTimeout   = 10 * time.Second
	defaultSweepSpec      = "@every 1m"
	defaultReconcileGrace = time.Hour
	defaultWorkerCount    = 2
)

// raw mirrors the environment one to one. Everything is read as a string so
// a malformed value falls back to its default instead of failing start-up.
type raw struct {
	Address           string `env:"CODEDROP_ADDRESS"`
	LogLevel          string `env:"CODEDROP_LOG_LEVEL"`
	LogFormat         string `env:"CODEDROP_LOG_FORMAT"`
	TTL               string `env:"CODEDROP_TTL"`
	MaxTextBytes      string `env:"CODEDROP_MAX_TEXT_BYTES"`
	MaxFileBytes      string `env:"CODEDROP_MAX_FILE_BYTES"`
	MetadataBackend   string `env:"CODEDROP_METADATA_BACKEND,default=memory"`
	BlobBackend       string `env:"CODEDROP_BLOB_BACKEND,default=fs"`
	RedisURL          string `env:"CODEDROP_REDIS_URL"`
	DatabaseURL       string `env:"CODEDROP_DATABASE_URL"`
	DataDir           string `env:"CODEDROP_DATA_DIR"`
	MemoryCapacity    string `env:"CODEDROP_MEMORY_CAPACITY"`
	S3Endpoint        string `env:"CODEDROP_S3_ENDPOINT"`
	S3AccessKey       string `env:"CODEDROP_S3_ACCESS_KEY"`
	S3SecretKey       string `env:"CODEDROP_S3_SECRET_KEY"`
	S3Region          string `env:"CODEDROP_S3_REGION"`
	S3Bucket          string `env:"CODEDROP_S3_BUCKET"`
	S3UseSSL          string `env:"CODEDROP_S3_USE_SSL"`
	S3Lifecycle       string `env:"CODEDROP_S3_LIFECYCLE"`
	PresignTTL        string `env:"CODEDROP_PRESIGN_TTL"`
	StoreTimeout      string `env:"CODEDROP_STORE_TIMEOUT"`
	SweepSpec         string `env:"CODEDROP_SWEEP_SPEC"`
	SweepInProcess    string `env:"CODEDROP_SWEEP_IN_PROCESS"`
	ReconcileGrace    string `env:"CODEDROP_RECONCILE_GRACE"`
	CronSecret        string `env:"CODEDROP_CRON_SECRET"`
	WorkerConcurrency string `env:"CODEDROP_WORKER_CONCURRENCY"`
}

// Load reads configuration from the process environment, after merging an
// optional .env file from the working directory.
func Load() (*Config, error) {
	if err := LoadDotenv(".env"); err != nil {
		return nil, err
	}
	return FromEnviron(os.Environ())
}

// LoadDotenv merges path into the process environment. Variables that are
// already set win. A missing file is not an error.
func LoadDotenv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnviron builds a Config from KEY=VALUE pairs.
func FromEnviron(environ []string) (*Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	var r raw
	if err := env.Unmarshal(es, &r); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg := &Config{
		Address:         orDefault(r.Address, defaultAddress),
		LogLevel:        strings.ToLower(orDefault(r.LogLevel, defaultLogLevel)),
		LogFormat:       strings.ToLower(orDefault(r.LogFormat, defaultLogFormat)),
		TTL:             parseDuration(r.TTL, defaultTTL),
		MaxTextBytes:    parseInt(r.MaxTextBytes, defaultMaxTextBytes),
		MaxFileBytes:    parseInt64(r.MaxFileBytes, 0),
		MetadataBackend: strings.ToLower(r.MetadataBackend),
		BlobBackend:     strings.ToLower(r.BlobBackend),
		RedisURL:        r.RedisURL,
		DatabaseURL:     r.DatabaseURL,
		DataDir:         orDefault(r.DataDir, defaultDataDir),
		MemoryCapacity:  parseInt(r.MemoryCapacity, defaultMemoryCapacity),
		S3: S3Config{
			Endpoint:  r.S3Endpoint,
			AccessKey: r.S3AccessKey,
			SecretKey: r.S3SecretKey,
			Region:    orDefault(r.S3Region, defaultS3Region),
			Bucket:    orDefault(r.S3Bucket, defaultS3Bucket),
			UseSSL:    parseBool(r.S3UseSSL, false),
			Lifecycle: parseBool(r.S3Lifecycle, false),
		},
		PresignTTL:        parseDuration(r.PresignTTL, defaultPresignTTL),
		StoreTimeout:      parseDuration(r.StoreTimeout, defaultStoreTimeout),
		SweepSpec:         orDefault(r.SweepSpec, defaultSweepSpec),
		SweepInProcess:    parseBool(r.SweepInProcess, false),
		ReconcileGrace:    parseDuration(r.ReconcileGrace, defaultReconcileGrace),
		CronSecret:        r.CronSecret,
		WorkerConcurrency: parseInt(r.WorkerConcurrency, defaultWorkerCount),
	}

	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxTextBytes
	}
	if cfg.MaxFileBytes < 0 {
		cfg.MaxFileBytes = 0
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = defaultMemoryCapacity
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if cfg.StoreTimeout < 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.ReconcileGrace < 0 {
		cfg.ReconcileGrace = defaultReconcileGrace
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot start.
func (c *Config) Validate() error {
	switch c.MetadataBackend {
	case MetadataMemory:
	case MetadataRedis:
		if c.RedisURL == "" {
			return errors.New("CODEDROP_REDIS_URL is required for the redis metadata backend")
		}
	case MetadataPostgres:
		if c.DatabaseURL == "" {
			return errors.New("CODEDROP_DATABASE_URL is required for the postgres metadata backend")
		}
	default:
		return fmt.Errorf("unknown metadata backend %q", c.MetadataBackend)
	}

	switch c.BlobBackend {
	case BlobFS:
	case BlobS3:
		if c.S3.Endpoint == "" {
			return errors.New("CODEDROP_S3_ENDPOINT is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
	return nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func parseInt64(v string, def int64) int64 {
	if v != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(v string, def int) int {
	if v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(v string, def bool) bool {
	if v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}
