package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Errorf("expected default addr, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.WorkerPoolSize != 10 {
		t.Errorf("expected default pool size 10, got %d", cfg.App.WorkerPoolSize)
	}
	if cfg.App.TokenTTL != 24*time.Hour {
		t.Errorf("expected default token ttl 24h, got %v", cfg.App.TokenTTL)
	}
	if cfg.App.CachePrefix != "pricecompare:" {
		t.Errorf("expected default cache prefix, got %s", cfg.App.CachePrefix)
	}
}

func TestLoad_FromFileWithPartialValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"app": {"http_addr": ":9090", "token_ttl": "12h"},
		"redis": {"addr": "redis-test:6379"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":9090" {
		t.Errorf("expected addr from file, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.TokenTTL != 12*time.Hour {
		t.Errorf("expected token ttl 12h, got %v", cfg.App.TokenTTL)
	}
	if cfg.Redis.Addr != "redis-test:6379" {
		t.Errorf("expected redis addr from file, got %s", cfg.Redis.Addr)
	}
	// 文件未覆盖的字段应落回默认值
	if cfg.App.WorkerPoolSize != 10 {
		t.Errorf("expected default pool size, got %d", cfg.App.WorkerPoolSize)
	}
	if cfg.MySQL.DSN == "" {
		t.Error("expected default mysql dsn")
	}
}

func TestLoad_InvalidTokenTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"app": {"token_ttl": "not-a-duration"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid token_ttl")
	}
}

func TestLoadOrDefault_FallsBackOnBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"app": {"token_ttl": "not-a-duration"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadOrDefault(path)
	if cfg == nil {
		t.Fatal("expected a config even for a broken file")
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Errorf("expected default addr, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.TokenTTL != 24*time.Hour {
		t.Errorf("expected default token ttl, got %v", cfg.App.TokenTTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_HTTP_ADDR", ":7070")
	t.Setenv("APP_WORKER_POOL_SIZE", "32")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("REDIS_ADDR", "redis-env:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":7070" {
		t.Errorf("expected env addr, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.WorkerPoolSize != 32 {
		t.Errorf("expected env pool size, got %d", cfg.App.WorkerPoolSize)
	}
	if cfg.Security.JWTSecret != "env-secret" {
		t.Errorf("expected env jwt secret, got %s", cfg.Security.JWTSecret)
	}
	if cfg.Redis.Addr != "redis-env:6379" {
		t.Errorf("expected env redis addr, got %s", cfg.Redis.Addr)
	}
}

func TestAppConfig_JSONRoundtrip(t *testing.T) {
	in := AppConfig{
		Env:            "prod",
		HTTPAddr:       ":8080",
		WorkerPoolSize: 4,
		TokenTTL:       36 * time.Hour,
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out AppConfig
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TokenTTL != in.TokenTTL {
		t.Errorf("token ttl did not survive roundtrip: %v", out.TokenTTL)
	}
	if out.Env != in.Env || out.HTTPAddr != in.HTTPAddr {
		t.Errorf("fields did not survive roundtrip: %+v", out)
	}
}
