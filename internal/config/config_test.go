package config

import (
	"log/slog"
	"testing"
	"time"
)

var allEnvVars = []string{
	"GAMECFG_DATABASE_URL", "GAMECFG_GRPC_ADDR", "GAMECFG_HTTP_ADDR", "GAMECFG_NATS_URL",
	"GAMECFG_AUTH_TOKEN", "GAMECFG_LOG_LEVEL", "GAMECFG_REDIS_URL", "GAMECFG_REDIS_KEY",
	"GAMECFG_SNAPSHOT_INTERVAL", "GAMECFG_EVAL_ONLY", "GAMECFG_SYNC_INTERVAL",
	"GAMECFG_SYNC_S3_BUCKET", "GAMECFG_SYNC_S3_ENDPOINT", "GAMECFG_SYNC_S3_REGION",
	"GAMECFG_SYNC_S3_PREFIX", "GAMECFG_SYNC_DIR", "GAMECFG_SYNC_KEEP",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
		wantEvalOnly bool
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"GAMECFG_DATABASE_URL": "postgres://localhost/gamecfg"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"GAMECFG_DATABASE_URL": "postgres://db:5432/gamecfg",
				"GAMECFG_GRPC_ADDR":    ":5050",
				"GAMECFG_HTTP_ADDR":    ":3000",
				"GAMECFG_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name: "EvalOnlyWithoutDatabase",
			env: map[string]string{
				"GAMECFG_EVAL_ONLY": "true",
				"GAMECFG_REDIS_URL": "redis://localhost:6379",
			},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
			wantEvalOnly: true,
		},
		{
			name:    "EvalOnlyRequiresRedis",
			env:     map[string]string{"GAMECFG_EVAL_ONLY": "1"},
			wantErr: true,
		},
		{
			name: "InvalidEvalOnly",
			env: map[string]string{
				"GAMECFG_DATABASE_URL": "postgres://localhost/gamecfg",
				"GAMECFG_EVAL_ONLY":    "sometimes",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["GAMECFG_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["GAMECFG_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
			if cfg.EvalOnly != tc.wantEvalOnly {
				t.Errorf("EvalOnly = %v, want %v", cfg.EvalOnly, tc.wantEvalOnly)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("GAMECFG_DATABASE_URL", "postgres://localhost/gamecfg")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SnapshotInterval != 30*time.Second {
		t.Errorf("SnapshotInterval = %v, want 30s", cfg.SnapshotInterval)
	}
	if cfg.SyncInterval != time.Hour {
		t.Errorf("SyncInterval = %v, want 1h", cfg.SyncInterval)
	}
	if cfg.SyncS3Region != "us-east-1" {
		t.Errorf("SyncS3Region = %q, want us-east-1", cfg.SyncS3Region)
	}
	if cfg.SyncS3Prefix != "gamecfg/" {
		t.Errorf("SyncS3Prefix = %q, want gamecfg/", cfg.SyncS3Prefix)
	}
	if cfg.RedisKey != "gamecfg:snapshot" {
		t.Errorf("RedisKey = %q", cfg.RedisKey)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.SyncDir != "" || cfg.SyncKeep != 24 {
		t.Errorf("SyncDir = %q, SyncKeep = %d", cfg.SyncDir, cfg.SyncKeep)
	}
}

func TestLoadSyncDir(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("GAMECFG_DATABASE_URL", "postgres://localhost/gamecfg")
	t.Setenv("GAMECFG_SYNC_DIR", "/var/backups/gamecfg")
	t.Setenv("GAMECFG_SYNC_KEEP", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncDir != "/var/backups/gamecfg" || cfg.SyncKeep != 0 {
		t.Errorf("SyncDir = %q, SyncKeep = %d", cfg.SyncDir, cfg.SyncKeep)
	}

	for _, val := range []string{"many", "-1"} {
		t.Setenv("GAMECFG_SYNC_KEEP", val)
		if _, err := Load(); err == nil {
			t.Errorf("expected error for GAMECFG_SYNC_KEEP=%s", val)
		}
	}
}

func TestLoadForceEvalOnly(t *testing.T) {
	clearAllEnv(t)
	if _, err := Load(ForceEvalOnly()); err == nil {
		t.Fatal("eval-only without GAMECFG_REDIS_URL should fail")
	}

	t.Setenv("GAMECFG_REDIS_URL", "redis://localhost:6379")
	cfg, err := Load(ForceEvalOnly())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.EvalOnly {
		t.Error("EvalOnly not set")
	}
}

func TestLoadCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("GAMECFG_DATABASE_URL", "postgres://localhost/gamecfg")
	t.Setenv("GAMECFG_SYNC_INTERVAL", "10m")
	t.Setenv("GAMECFG_SYNC_S3_BUCKET", "my-bucket")
	t.Setenv("GAMECFG_SYNC_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("GAMECFG_SYNC_S3_REGION", "eu-west-1")
	t.Setenv("GAMECFG_SYNC_S3_PREFIX", "backups/")
	t.Setenv("GAMECFG_SNAPSHOT_INTERVAL", "0s")
	t.Setenv("GAMECFG_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 10*time.Minute {
		t.Errorf("SyncInterval = %v, want 10m", cfg.SyncInterval)
	}
	if cfg.SyncS3Bucket != "my-bucket" || cfg.SyncS3Endpoint != "http://minio:9000" {
		t.Errorf("S3 = %q %q", cfg.SyncS3Bucket, cfg.SyncS3Endpoint)
	}
	if cfg.SyncS3Region != "eu-west-1" || cfg.SyncS3Prefix != "backups/" {
		t.Errorf("S3 = %q %q", cfg.SyncS3Region, cfg.SyncS3Prefix)
	}
	if cfg.SnapshotInterval != 0 {
		t.Errorf("SnapshotInterval = %v, want 0", cfg.SnapshotInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadInvalidDurations(t *testing.T) {
	for _, key := range []string{"GAMECFG_SYNC_INTERVAL", "GAMECFG_SNAPSHOT_INTERVAL"} {
		for _, val := range []string{"not-a-duration", "-5s"} {
			t.Run(key+"="+val, func(t *testing.T) {
				clearAllEnv(t)
				t.Setenv("GAMECFG_DATABASE_URL", "postgres://localhost/gamecfg")
				t.Setenv(key, val)
				if _, err := Load(); err == nil {
					t.Fatalf("expected error for %s=%s", key, val)
				}
			})
		}
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("GAMECFG_DATABASE_URL", "postgres://localhost/gamecfg")
	t.Setenv("GAMECFG_LOG_LEVEL", "chatty")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
