// Package config loads runtime settings from the environment, an optional
// .env file and an optional YAML file named by CONFIG_FILE.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Credential store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config holds the webhook settings.
type Config struct {
	CredentialsStore string        `yaml:"credentials_store"`
	CredentialsFile  string        `yaml:"credentials_file"`
	CredentialsID    string        `yaml:"credentials_id"`
	DatabaseURL      string        `yaml:"database_url"`
	MonzoAPIURL      string        `yaml:"monzo_api_url"`
	BasicAuthDigest  string        `yaml:"basic_auth_digest"`
	Timezone         string        `yaml:"timezone"`
	DumpDir          string        `yaml:"dump_dir"`
	Port             string        `yaml:"port"`
	LogLevel         string        `yaml:"log_level"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		CredentialsStore: StoreFile,
		CredentialsFile:  "config/oauth.json",
		CredentialsID:    "default",
		MonzoAPIURL:      "https://api.monzo.com",
		Timezone:         "Europe/London",
		DumpDir:          os.TempDir(),
		Port:             "8080",
		LogLevel:         "info",
		HTTPTimeout:      30 * time.Second,
	}
}

// Load builds the configuration. Precedence, lowest first: defaults, the
// YAML file, then environment variables (including those from .env).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	setString(&c.CredentialsStore, "CREDENTIALS_STORE")
	setString(&c.CredentialsFile, "CREDENTIALS_FILE")
	setString(&c.CredentialsID, "CREDENTIALS_ID")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.MonzoAPIURL, "MONZO_API_URL")
	setString(&c.BasicAuthDigest, "BASIC_AUTH_DIGEST")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.DumpDir, "DUMP_DIR")
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")

	if v, ok := lookup("HTTP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HTTP_TIMEOUT: %w", err)
		}
		c.HTTPTimeout = d
	}

	return nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.CredentialsStore {
	case StoreFile:
		if c.CredentialsFile == "" {
			return errors.New("CREDENTIALS_FILE must be set for the file store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set for the postgres store")
		}
	default:
		return fmt.Errorf("unknown CREDENTIALS_STORE %q (want %s or %s)", c.CredentialsStore, StoreFile, StorePostgres)
	}

	digest, err := hex.DecodeString(c.BasicAuthDigest)
	if err != nil || len(digest) != 32 {
		return errors.New("BASIC_AUTH_DIGEST must be the hex SHA-256 of \"user:password\"")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}

	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT: %w", err)
	}

	return nil
}

// ValidateLambda checks the settings required by the Lambda entry point.
// A Lambda deployment package is read-only and /tmp does not outlive the
// execution environment, so a rotated refresh token can only be kept in
// Postgres.
func (c *Config) ValidateLambda() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CredentialsStore != StorePostgres {
		return fmt.Errorf("CREDENTIALS_STORE must be %s on lambda (got %q)", StorePostgres, c.CredentialsStore)
	}
	return nil
}

// Location returns the time zone CompletedAt values are interpreted in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}
