package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "HTTP_ADDR", "DATABASE_URL", "LOG_LEVEL", "REDIS_ADDR", "REDIS_PASSWORD",
		"EVENT_CHANNEL", "SCHEMA_VERSION", "TOKEN_SECRET", "TOKEN_TTL", "GEMINI_API_KEY",
		"GEMINI_MODEL", "AUTH_RATE_RPS", "AUTH_RATE_BURST", "TRUSTED_PROXIES",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.DatabaseURL != "sqlite::memory:" {
		t.Fatalf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "sqlite::memory:")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.EventChannel != "nexus_socket_v1" {
		t.Fatalf("EventChannel = %q, want %q", cfg.EventChannel, "nexus_socket_v1")
	}
	if cfg.SchemaVersion != 3 {
		t.Fatalf("SchemaVersion = %d, want 3", cfg.SchemaVersion)
	}
	if cfg.TokenTTL != 168*time.Hour {
		t.Fatalf("TokenTTL = %v, want %v", cfg.TokenTTL, 168*time.Hour)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("RedisAddr = %q, want empty", cfg.RedisAddr)
	}
}

func TestLoad_FileOverlayAndEnvPrecedence(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "httpAddr: \":9090\"\nredisAddr: \"localhost:6379\"\nschemaVersion: 7\ntokenTTL: \"1h\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Fatalf("HTTPAddr = %q, want env value %q", cfg.HTTPAddr, ":7070")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr = %q, want %q", cfg.RedisAddr, "localhost:6379")
	}
	if cfg.SchemaVersion != 7 {
		t.Fatalf("SchemaVersion = %d, want 7", cfg.SchemaVersion)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("TokenTTL = %v, want 1h", cfg.TokenTTL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCHEMA_VERSION", "abc")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for non-numeric SCHEMA_VERSION")
	}

	clearEnv(t)
	t.Setenv("TOKEN_TTL", "forever")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for bad TOKEN_TTL")
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("TrustedProxies = %v, want none by default", cfg.TrustedProxies)
	}

	t.Setenv("TRUSTED_PROXIES", " 10.0.0.1, 192.168.0.0/16 ,")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.1" || cfg.TrustedProxies[1] != "192.168.0.0/16" {
		t.Fatalf("TrustedProxies = %v", cfg.TrustedProxies)
	}
}
