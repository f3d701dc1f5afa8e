package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"piesta-gateway/internal/catalog"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/router"
)

// Environment variables holding server-side default credentials.
const (
	EnvChatKey        = "OPENROUTER_API_KEY"
	EnvFalKey         = "FAL_KEY"
	EnvHuggingFaceKey = "HUGGINGFACE_API_KEY"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

const (
	defaultPort         = 8080
	defaultMaxBodyBytes = 1 << 20
	defaultTimeout      = 60 * time.Second
	defaultRedisTTL     = 24 * time.Hour
	defaultRedisPrefix  = "piesta:conversation:"
	defaultTable        = "conversations"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Providers ProvidersConfig   `yaml:"providers"`
	Models    ModelsConfig      `yaml:"models"`
	Fallbacks map[string]string `yaml:"fallbacks"`
	Fanout    FanoutConfig      `yaml:"fanout"`
	Trust     TrustConfig       `yaml:"trust"`
	Store     StoreConfig       `yaml:"store"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port         int   `yaml:"port"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// ProvidersConfig holds upstream endpoints. Credentials are never read from
// YAML; they come from the caller or the environment.
type ProvidersConfig struct {
	Chat        ChatConfig     `yaml:"chat"`
	Fal         EndpointConfig `yaml:"fal"`
	HuggingFace EndpointConfig `yaml:"huggingface"`
	// Timeout bounds every upstream HTTP call.
	Timeout time.Duration `yaml:"timeout"`
}

// ChatConfig configures the OpenAI-compatible chat upstream.
type ChatConfig struct {
	BaseURL string `yaml:"base_url"`
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
}

// EndpointConfig configures an image upstream.
type EndpointConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ModelsConfig lists catalog entries layered on the built-in tables.
type ModelsConfig struct {
	Chat        []string             `yaml:"chat"`
	Fal         []catalog.ImageModel `yaml:"fal"`
	HuggingFace []catalog.ImageModel `yaml:"huggingface"`
}

// FanoutConfig bounds compare concurrency. Zero means one goroutine per target.
type FanoutConfig struct {
	MaxParallel int `yaml:"max_parallel"`
}

// TrustConfig controls the trust score jitter.
type TrustConfig struct {
	Jitter bool  `yaml:"jitter"`
	Seed   int64 `yaml:"seed"`
}

// StoreConfig selects the conversation history backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the Redis history backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// PostgresConfig configures the PostgreSQL history backend.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Default returns a configuration usable without a file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         defaultPort,
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		Providers: ProvidersConfig{
			Timeout: defaultTimeout,
		},
		Trust: TrustConfig{Jitter: true},
		Store: StoreConfig{
			Backend: StoreMemory,
			Redis: RedisConfig{
				TTL:    defaultRedisTTL,
				Prefix: defaultRedisPrefix,
			},
			Postgres: PostgresConfig{Table: defaultTable},
		},
	}
}

// Load reads YAML configuration from disk over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}

	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive, got %s", c.Providers.Timeout)
	}
	endpoints := map[string]string{
		"providers.chat.base_url":        c.Providers.Chat.BaseURL,
		"providers.fal.base_url":         c.Providers.Fal.BaseURL,
		"providers.huggingface.base_url": c.Providers.HuggingFace.BaseURL,
	}
	for field, raw := range endpoints {
		if err := validateURL(field, raw); err != nil {
			return err
		}
	}

	if c.Fanout.MaxParallel < 0 {
		return fmt.Errorf("fanout.max_parallel must not be negative, got %d", c.Fanout.MaxParallel)
	}

	cat, err := c.Catalog()
	if err != nil {
		return err
	}
	if _, err := router.New(cat); err != nil {
		return fmt.Errorf("fallbacks: %w", err)
	}

	return c.Store.validate()
}

// Catalog builds the model catalog described by the configuration.
func (c Config) Catalog() (*catalog.Catalog, error) {
	cat, err := catalog.New(catalog.Options{
		ChatModels:        c.Models.Chat,
		FalModels:         c.Models.Fal,
		HuggingFaceModels: c.Models.HuggingFace,
		Fallbacks:         c.Fallbacks,
	})
	if err != nil {
		return nil, fmt.Errorf("models: %w", err)
	}
	return cat, nil
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case StoreMemory:
		return nil
	case StoreRedis:
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return errors.New("store.redis.addr must be provided for the redis backend")
		}
		if s.Redis.TTL < 0 {
			return fmt.Errorf("store.redis.ttl must not be negative, got %s", s.Redis.TTL)
		}
		return nil
	case StorePostgres:
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			return errors.New("store.postgres.dsn must be provided for the postgres backend")
		}
		if !tableNamePattern.MatchString(s.Postgres.Table) {
			return fmt.Errorf("store.postgres.table %q is not a valid identifier", s.Postgres.Table)
		}
		return nil
	default:
		return fmt.Errorf("store.backend %q must be one of %q, %q or %q", s.Backend, StoreMemory, StoreRedis, StorePostgres)
	}
}

func validateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return nil
}

// LoadCredentials returns the server-side default credentials from the
// environment, after loading envFile when it exists. An empty envFile reads
// ".env" from the working directory.
func LoadCredentials(envFile string) (models.Credentials, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.Credentials{}, fmt.Errorf("load env file %q: %w", envFile, err)
	}

	return models.Credentials{
		Chat:        strings.TrimSpace(os.Getenv(EnvChatKey)),
		Fal:         strings.TrimSpace(os.Getenv(EnvFalKey)),
		HuggingFace: strings.TrimSpace(os.Getenv(EnvHuggingFaceKey)),
	}, nil
}
