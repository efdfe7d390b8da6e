// Package config reads ChartDrop settings from the environment. The server,
// the worker and the CLI share one Config; each binary uses its own section.
package config

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config represents runtime configuration for all binaries.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"chartdrop"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string        `env:"CHARTDROP_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"CHARTDROP_LOG_FORMAT" envDefault:"console"` // json or console
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// API server
	Address   string `env:"CHARTDROP_ADDRESS" envDefault:":8080"`
	PublicURL string `env:"CHARTDROP_PUBLIC_URL" envDefault:"http://localhost:8080"`
	// MaxFileSize caps sizeBytes accepted at confirmation.
	MaxFileSize  int64         `env:"CHARTDROP_MAX_FILE_BYTES" envDefault:"104857600"`
	SlotTTL      time.Duration `env:"CHARTDROP_SLOT_TTL" envDefault:"15m"`
	SignedURLTTL time.Duration `env:"CHARTDROP_SIGNED_TTL" envDefault:"5m"`
	// SigningSecret keys the local object store signatures. A random one is
	// generated when empty, which invalidates URLs across restarts.
	SigningSecret string `env:"CHARTDROP_SIGNING_SECRET"`
	SigningKey    []byte

	// Metadata store; empty keeps records in memory.
	DatabaseURL string `env:"DATABASE_URL"`

	// Object store backend: "local" or "s3".
	StorageBackend   string `env:"CHARTDROP_STORAGE_BACKEND" envDefault:"local"`
	LocalStoragePath string `env:"CHARTDROP_LOCAL_STORAGE_PATH" envDefault:"./data/objects"`
	S3Endpoint       string `env:"S3_ENDPOINT" envDefault:"localhost:9000"`
	S3AccessKey      string `env:"S3_ACCESS_KEY"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`
	S3UseSSL         bool   `env:"S3_USE_SSL" envDefault:"false"`
	S3Region         string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket         string `env:"S3_BUCKET" envDefault:"clinical-files"`

	// Background jobs; empty RedisAddr disables them.
	RedisAddr         string `env:"REDIS_ADDR"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	WorkerConcurrency int    `env:"CHARTDROP_WORKERS" envDefault:"2"`

	// CLI client
	APIURL            string        `env:"CHARTDROP_API_URL" envDefault:"http://localhost:8080"`
	UploadConcurrency int           `env:"CHARTDROP_UPLOAD_CONCURRENCY" envDefault:"3"`
	SlotTimeout       time.Duration `env:"CHARTDROP_SLOT_TIMEOUT" envDefault:"15s"`
	TransferTimeout   time.Duration `env:"CHARTDROP_TRANSFER_TIMEOUT" envDefault:"5m"`
	ConfirmTimeout    time.Duration `env:"CHARTDROP_CONFIRM_TIMEOUT" envDefault:"15s"`
}

const (
	defaultMaxFileSize = 100 << 20
	defaultSlotTTL     = 15 * time.Minute
	defaultSignedTTL   = 5 * time.Minute
	defaultWorkerCount = 2
)

// Load parses environment variables into Config and normalises the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)
	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)

	switch cfg.StorageBackend {
	case "local", "s3":
	default:
		return nil, fmt.Errorf("CHARTDROP_STORAGE_BACKEND must be local or s3, got %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when CHARTDROP_STORAGE_BACKEND is s3")
	}

	if cfg.SigningSecret != "" {
		cfg.SigningKey = []byte(cfg.SigningSecret)
	} else {
		key, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.SigningKey = key
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 1
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SlotTTL <= 0 {
		cfg.SlotTTL = defaultSlotTTL
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	return cfg, nil
}

// IsS3Storage reports whether objects live in S3/MinIO.
func (c *Config) IsS3Storage() bool {
	return c.StorageBackend == "s3"
}

// JobsEnabled reports whether a Redis queue is configured.
func (c *Config) JobsEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	return buf, nil
}
