package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SORABOX_MODE", "")
	t.Setenv("SORABOX_LISTEN_ADDR", "")
	t.Setenv("SORABOX_STORAGE", "")
	t.Setenv("SORABOX_DB_PATH", "")
	t.Setenv("SORABOX_POLL_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error with defaults, got: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.Mode != ModeDirect {
		t.Errorf("default Mode = %q, want %q", cfg.Mode, ModeDirect)
	}
	if cfg.Storage != StorageFS {
		t.Errorf("default Storage = %q, want %q", cfg.Storage, StorageFS)
	}
	if cfg.DBPath != "sorabox.db" {
		t.Errorf("default DBPath = %q, want %q", cfg.DBPath, "sorabox.db")
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("default PollInterval = %v, want 10s", cfg.PollInterval)
	}
	if cfg.ProviderBaseURL != "https://api.openai.com/v1" {
		t.Errorf("default ProviderBaseURL = %q", cfg.ProviderBaseURL)
	}
}

func TestLoad_AllVarsSet(t *testing.T) {
	t.Setenv("SORABOX_MODE", "relay")
	t.Setenv("SORABOX_RELAY_URL", "https://relay.example.com/")
	t.Setenv("SORABOX_LISTEN_ADDR", ":9090")
	t.Setenv("SORABOX_PASSWORD_HASH", "abcd1234")
	t.Setenv("SORABOX_STORAGE", "s3")
	t.Setenv("SORABOX_S3_ENDPOINT", "minio.local:9000")
	t.Setenv("SORABOX_S3_BUCKET", "videos")
	t.Setenv("SORABOX_POLL_INTERVAL", "5")
	t.Setenv("SORABOX_RATE_LIMIT", "3")
	t.Setenv("SORABOX_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Mode != ModeRelay {
		t.Errorf("Mode = %q, want relay", cfg.Mode)
	}
	if cfg.RelayURL != "https://relay.example.com" {
		t.Errorf("RelayURL = %q, trailing slash should be stripped", cfg.RelayURL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.RateLimitRPS != 3 {
		t.Errorf("RateLimitRPS = %d, want 3", cfg.RateLimitRPS)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_RelayModeRequiresURL(t *testing.T) {
	t.Setenv("SORABOX_MODE", "relay")
	t.Setenv("SORABOX_RELAY_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when relay mode has no relay URL, got nil")
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	t.Setenv("SORABOX_MODE", "hybrid")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid mode, got nil")
	}
}

func TestLoad_S3RequiresEndpointAndBucket(t *testing.T) {
	t.Setenv("SORABOX_MODE", "direct")
	t.Setenv("SORABOX_STORAGE", "s3")
	t.Setenv("SORABOX_S3_ENDPOINT", "")
	t.Setenv("SORABOX_S3_BUCKET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for s3 storage without endpoint, got nil")
	}
}

func TestLoad_InvalidPollInterval(t *testing.T) {
	t.Setenv("SORABOX_MODE", "direct")
	t.Setenv("SORABOX_POLL_INTERVAL", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero poll interval, got nil")
	}
}
