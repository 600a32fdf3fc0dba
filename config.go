package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model, loaded from an optional
// YAML file with environment-variable overrides on top.
type Config struct {
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	CORS     CORSConfig     `yaml:"cors"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type DatabaseConfig struct {
	// Postgres DSN. If empty, read from env DATABASE_URL.
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
}

type AuthConfig struct {
	// HS256 signing secret. If empty, read from env JWT_SECRET.
	JWTSecret string `yaml:"jwtSecret"`
	// Token lifetime, e.g. "24h".
	TokenTTL Duration `yaml:"tokenTTL"`
	// Login attempts allowed per remote address per minute.
	LoginRatePerMinute float64 `yaml:"loginRatePerMinute"`
	LoginBurst         int     `yaml:"loginBurst"`
}

// Duration lets durations be written in config files the way Go spells them
// ("24h", "90s") rather than as raw nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Listen: ":8080",
		Database: DatabaseConfig{
			URL:          "user=admin password=password dbname=kindreddb sslmode=disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			JWTSecret:          "your_secret_key_please_change_in_production",
			TokenTTL:           Duration(24 * time.Hour),
			LoginRatePerMinute: 10,
			LoginBurst:         5,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3001"},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// LoadConfig reads path (if non-empty and present) on top of the defaults and
// then applies environment overrides. A missing file is not an error; a
// malformed one is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("KINDRED_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.resolveEnv()
	return cfg, nil
}

func (c *Config) resolveEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("KINDRED_LISTEN"); v != "" {
		c.Listen = v
	}
}
