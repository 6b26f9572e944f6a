package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // GAMECFG_DATABASE_URL (required unless EvalOnly)
	GRPCAddr    string // GAMECFG_GRPC_ADDR (default ":9090")
	HTTPAddr    string // GAMECFG_HTTP_ADDR (default ":8080")
	NATSURL     string // GAMECFG_NATS_URL (optional, empty = no events)
	AuthToken   string // GAMECFG_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    slog.Level

	// Live snapshot
	RedisURL         string        // GAMECFG_REDIS_URL (optional snapshot mirror)
	RedisKey         string        // GAMECFG_REDIS_KEY (default "gamecfg:snapshot")
	SnapshotInterval time.Duration // GAMECFG_SNAPSHOT_INTERVAL (default 30s; 0 = refresh on events only)
	EvalOnly         bool          // GAMECFG_EVAL_ONLY: serve evaluation from the Redis mirror, no database

	// Backup settings
	SyncInterval   time.Duration // GAMECFG_SYNC_INTERVAL (default 1h; 0 = disabled)
	SyncS3Bucket   string        // GAMECFG_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // GAMECFG_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // GAMECFG_SYNC_S3_REGION (default "us-east-1")
	SyncS3Prefix   string        // GAMECFG_SYNC_S3_PREFIX (default "gamecfg/")
	SyncDir        string        // GAMECFG_SYNC_DIR (enables local directory backups when set)
	SyncKeep       int           // GAMECFG_SYNC_KEEP (default 24; 0 = keep every export)
}

// Option adjusts the configuration after the environment is read and before
// it is validated.
type Option func(*Config)

// ForceEvalOnly turns on evaluation-only mode regardless of GAMECFG_EVAL_ONLY.
func ForceEvalOnly() Option {
	return func(c *Config) { c.EvalOnly = true }
}

func Load(opts ...Option) (*Config, error) {
	c := &Config{
		DatabaseURL:    os.Getenv("GAMECFG_DATABASE_URL"),
		GRPCAddr:       envOrDefault("GAMECFG_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("GAMECFG_HTTP_ADDR", ":8080"),
		NATSURL:        os.Getenv("GAMECFG_NATS_URL"),
		AuthToken:      os.Getenv("GAMECFG_AUTH_TOKEN"),
		RedisURL:       os.Getenv("GAMECFG_REDIS_URL"),
		RedisKey:       envOrDefault("GAMECFG_REDIS_KEY", "gamecfg:snapshot"),
		SyncS3Bucket:   os.Getenv("GAMECFG_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("GAMECFG_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("GAMECFG_SYNC_S3_REGION", "us-east-1"),
		SyncS3Prefix:   envOrDefault("GAMECFG_SYNC_S3_PREFIX", "gamecfg/"),
		SyncDir:        os.Getenv("GAMECFG_SYNC_DIR"),
	}

	var err error
	if c.EvalOnly, err = envBool("GAMECFG_EVAL_ONLY"); err != nil {
		return nil, err
	}
	if c.SyncKeep, err = envInt("GAMECFG_SYNC_KEEP", 24); err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(c)
	}
	if c.EvalOnly {
		if c.RedisURL == "" {
			return nil, fmt.Errorf("GAMECFG_REDIS_URL is required with GAMECFG_EVAL_ONLY")
		}
	} else if c.DatabaseURL == "" {
		return nil, fmt.Errorf("GAMECFG_DATABASE_URL is required")
	}

	if c.SnapshotInterval, err = envDuration("GAMECFG_SNAPSHOT_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = envDuration("GAMECFG_SYNC_INTERVAL", "1h"); err != nil {
		return nil, err
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("GAMECFG_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("GAMECFG_LOG_LEVEL: %w", err)
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return n, nil
}

func envBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
