package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config is the process-level configuration. Everything that lives in the
// task store (accounts, locations, bindings, notification settings) is
// deliberately not here; this covers only how the process runs.
type Config struct {
	StoreDriver string // "file" or "postgres"
	ConfigPath  string // file driver
	DatabaseURL string // postgres driver

	PortalBaseURL string

	HTTPAddr string

	SessionHashKey  []byte // base64, required for the server command
	SessionBlockKey []byte // base64, required for the server command

	CredEncKey []byte // optional, 32 bytes for AES-256-GCM, base64

	LogLevel    string
	Environment string
}

// FromEnv loads configuration from the environment, reading an optional .env
// file first. Defaults are resolved here, never downstream.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		StoreDriver:   strings.ToLower(envDefault("STORE_DRIVER", DriverFile)),
		ConfigPath:    envDefault("CONFIG_PATH", "config.json"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		PortalBaseURL: strings.TrimRight(envDefault("PORTAL_BASE_URL", "http://k8n.cn"), "/"),
		HTTPAddr:      envDefault("HTTP_ADDR", ":8080"),
		LogLevel:      strings.ToLower(envDefault("LOG_LEVEL", "info")),
		Environment:   strings.ToLower(envDefault("ENVIRONMENT", "development")),
	}

	switch cfg.StoreDriver {
	case DriverFile:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return cfg, fmt.Errorf("invalid STORE_DRIVER %q (want %q or %q)", cfg.StoreDriver, DriverFile, DriverPostgres)
	}

	var err error
	if cfg.SessionHashKey, err = optionalB64("SESSION_HASH_KEY"); err != nil {
		return cfg, err
	}
	if cfg.SessionBlockKey, err = optionalB64("SESSION_BLOCK_KEY"); err != nil {
		return cfg, err
	}
	if cfg.CredEncKey, err = optionalB64("CRED_ENC_KEY"); err != nil {
		return cfg, err
	}
	if len(cfg.CredEncKey) != 0 && len(cfg.CredEncKey) != 32 {
		return cfg, fmt.Errorf("CRED_ENC_KEY must decode to 32 bytes (got %d)", len(cfg.CredEncKey))
	}

	return cfg, nil
}

// RequireSessionKeys validates the key material the admin API needs.
func (c Config) RequireSessionKeys() error {
	if len(c.SessionHashKey) == 0 || len(c.SessionBlockKey) == 0 {
		return fmt.Errorf("SESSION_HASH_KEY and SESSION_BLOCK_KEY are required (base64)")
	}
	return nil
}

func envDefault(k, d string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	return v
}

func optionalB64(k string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil, nil
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}
