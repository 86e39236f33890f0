package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "QUEUE_NAME", "QUEUE_PREFETCH", "QUEUE_BACKEND", "REDIS_ADDR", "REDIS_URL", "NATS_URL", "CORS_ALLOWED_ORIGINS", "PROCESS_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8000" {
		t.Fatalf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.QueueName != "consulta_queue" {
		t.Fatalf("expected default queue name, got %s", cfg.QueueName)
	}
	if cfg.QueuePrefetch != 1 {
		t.Fatalf("expected prefetch 1, got %d", cfg.QueuePrefetch)
	}
	if cfg.ProcessTimeout != 20*time.Second {
		t.Fatalf("expected 20s process timeout, got %s", cfg.ProcessTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard CORS, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.WorkerID == "" {
		t.Fatalf("expected a worker id fallback")
	}
	if cfg.ResolvedQueueBackend() != QueueBackendLocal {
		t.Fatalf("expected local backend, got %s", cfg.ResolvedQueueBackend())
	}
}

func TestLoadParsesTypedValues(t *testing.T) {
	t.Setenv("QUEUE_PREFETCH", "4")
	t.Setenv("QUEUE_CLAIM_IDLE", "45s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg := Load()
	if cfg.QueuePrefetch != 4 {
		t.Fatalf("expected prefetch 4, got %d", cfg.QueuePrefetch)
	}
	if cfg.QueueClaimIdle != 45*time.Second {
		t.Fatalf("expected 45s claim idle, got %s", cfg.QueueClaimIdle)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.RateLimitRPS)
	}
	if cfg.WorkerEnabled {
		t.Fatalf("expected worker disabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("expected fallback for invalid int, got %d", cfg.DBMaxConns)
	}
}

func TestResolvedQueueBackend(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "explicit wins", cfg: Config{QueueBackend: "nats", RedisAddr: "localhost:6379"}, want: QueueBackendNATS},
		{name: "redis addr", cfg: Config{RedisAddr: "localhost:6379"}, want: QueueBackendRedis},
		{name: "redis url", cfg: Config{RedisURL: "redis://localhost:6379/0"}, want: QueueBackendRedis},
		{name: "nats url", cfg: Config{NATSURL: "nats://localhost:4222"}, want: QueueBackendNATS},
		{name: "unknown falls back", cfg: Config{QueueBackend: "kafka"}, want: QueueBackendLocal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.ResolvedQueueBackend(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestLoadDotEnvKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "CONSULTA_TEST_FROM_FILE=file\nCONSULTA_TEST_OVERRIDE=file\nCONSULTA_TEST_QUOTED=\"a b\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CONSULTA_TEST_OVERRIDE", "process")
	t.Cleanup(func() {
		os.Unsetenv("CONSULTA_TEST_FROM_FILE")
		os.Unsetenv("CONSULTA_TEST_QUOTED")
	})

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("CONSULTA_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected file value, got %q", got)
	}
	if got := os.Getenv("CONSULTA_TEST_OVERRIDE"); got != "process" {
		t.Fatalf("expected process env to win, got %q", got)
	}
	if got := os.Getenv("CONSULTA_TEST_QUOTED"); got != "a b" {
		t.Fatalf("expected unquoted value, got %q", got)
	}
}
