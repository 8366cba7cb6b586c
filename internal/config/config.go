package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects how the provider is reached.
type Mode string

const (
	// ModeDirect calls the provider API with a locally configured key.
	ModeDirect Mode = "direct"
	// ModeRelay goes through a deployed relay server that holds the key.
	ModeRelay Mode = "relay"
)

// StorageBackend selects where downloaded artifacts are persisted.
type StorageBackend string

const (
	StorageFS StorageBackend = "fs"
	StorageS3 StorageBackend = "s3"
)

type Config struct {
	ListenAddr string

	Mode            Mode
	RelayURL        string
	ProviderBaseURL string
	ProviderAPIKey  string

	// AppPassword, when set, gates this instance's relay surface. PasswordHash
	// is the stored client-side proof for talking to a protected relay.
	AppPassword  string
	PasswordHash string

	Storage     StorageBackend
	DataDir     string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	DBPath       string
	PollInterval time.Duration
	WebhookURL   string
	CORSOrigins  []string
	RateLimitRPS int
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnv("SORABOX_LISTEN_ADDR", ":8080"),
		Mode:            Mode(getEnv("SORABOX_MODE", "direct")),
		RelayURL:        strings.TrimRight(getEnv("SORABOX_RELAY_URL", ""), "/"),
		ProviderBaseURL: strings.TrimRight(getEnv("SORABOX_PROVIDER_BASE_URL", "https://api.openai.com/v1"), "/"),
		ProviderAPIKey:  getEnv("SORABOX_API_KEY", ""),
		AppPassword:     getEnv("SORABOX_APP_PASSWORD", ""),
		PasswordHash:    getEnv("SORABOX_PASSWORD_HASH", ""),
		Storage:         StorageBackend(getEnv("SORABOX_STORAGE", "fs")),
		DataDir:         getEnv("SORABOX_DATA_DIR", "sorabox-data"),
		S3Endpoint:      getEnv("SORABOX_S3_ENDPOINT", ""),
		S3Bucket:        getEnv("SORABOX_S3_BUCKET", ""),
		S3AccessKey:     getEnv("SORABOX_S3_ACCESS_KEY", ""),
		S3SecretKey:     getEnv("SORABOX_S3_SECRET_KEY", ""),
		S3UseSSL:        getEnv("SORABOX_S3_USE_SSL", "true") == "true",
		DBPath:          getEnv("SORABOX_DB_PATH", "sorabox.db"),
		WebhookURL:      getEnv("SORABOX_WEBHOOK_URL", ""),
	}

	switch cfg.Mode {
	case ModeDirect, ModeRelay:
	default:
		return nil, fmt.Errorf("SORABOX_MODE %q must be one of: direct, relay", cfg.Mode)
	}

	if cfg.Mode == ModeRelay && cfg.RelayURL == "" {
		return nil, errors.New("SORABOX_RELAY_URL must be set in relay mode")
	}

	switch cfg.Storage {
	case StorageFS:
	case StorageS3:
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
			return nil, errors.New("SORABOX_S3_ENDPOINT and SORABOX_S3_BUCKET must be set for s3 storage")
		}
	default:
		return nil, fmt.Errorf("SORABOX_STORAGE %q must be one of: fs, s3", cfg.Storage)
	}

	pollSeconds, err := getEnvInt("SORABOX_POLL_INTERVAL", 10)
	if err != nil {
		return nil, fmt.Errorf("SORABOX_POLL_INTERVAL: %w", err)
	}
	if pollSeconds < 1 {
		return nil, errors.New("SORABOX_POLL_INTERVAL must be > 0")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	cfg.RateLimitRPS, err = getEnvInt("SORABOX_RATE_LIMIT", 0)
	if err != nil {
		return nil, fmt.Errorf("SORABOX_RATE_LIMIT: %w", err)
	}

	for _, o := range strings.Split(getEnv("SORABOX_CORS_ORIGINS", ""), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}
