package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the server configuration. Non-secret settings live in a YAML
// file; secrets come from the environment (optionally via a .env file
// next to the config).
type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	TokenTTL    string `yaml:"token_ttl"`
	JWTSecret   string `yaml:"-"`

	ParsedTokenTTL time.Duration
}

// Load reads the YAML config at filename and applies environment
// overrides: DATABASE_URL replaces database_url, JWT_SECRET is required.
func Load(filename string) (*Config, error) {
	// a missing .env is fine; the environment may already be populated
	_ = godotenv.Load(filepath.Join(filepath.Dir(filename), ".env"))

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is not set")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}

	cfg.ParsedTokenTTL = 24 * time.Hour
	if cfg.TokenTTL != "" {
		ttl, err := time.ParseDuration(cfg.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid token_ttl: %w", err)
		}
		cfg.ParsedTokenTTL = ttl
	}
	return &cfg, nil
}
