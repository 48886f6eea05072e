package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const (
	envPrefix  = "GACHA_"
	envCfgFile = "GACHA_CONFIG"
)

type Config struct {
	DBPath      string `koanf:"db_path"`
	ServerPort  string `koanf:"server_port"`
	LogLevel    string `koanf:"log_level"`
	CatalogPath string `koanf:"catalog_path"`

	Lang         string        `koanf:"lang"`
	PageSize     int           `koanf:"page_size"`
	FetchRetries int           `koanf:"fetch_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	PageDelay    time.Duration `koanf:"page_delay"`

	JobGracePeriod time.Duration `koanf:"job_grace_period"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	SweepTimeout   time.Duration `koanf:"sweep_timeout"`

	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisTTL      time.Duration `koanf:"redis_ttl"`

	ArchiveEndpoint  string `koanf:"archive_endpoint"`
	ArchiveAccessKey string `koanf:"archive_access_key"`
	ArchiveSecretKey string `koanf:"archive_secret_key"`
	ArchiveBucket    string `koanf:"archive_bucket"`
	ArchiveUseSSL    bool   `koanf:"archive_use_ssl"`
}

func Default() *Config {
	return &Config{
		DBPath:         "gacha.db",
		ServerPort:     "8080",
		LogLevel:       "info",
		Lang:           "en",
		PageSize:       20,
		FetchRetries:   3,
		RetryBackoff:   2 * time.Second,
		PageDelay:      200 * time.Millisecond,
		JobGracePeriod: time.Minute,
		SweepInterval:  time.Hour,
		SweepTimeout:   5 * time.Minute,
		RedisTTL:       2 * time.Hour,
		ArchiveBucket:  "gacha-documents",
	}
}

// Load layers defaults, an optional YAML file named by GACHA_CONFIG and
// GACHA_* environment variables, in that order of precedence.
func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	k := koanf.New(".")

	if path := os.Getenv(envCfgFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("sweep_interval", cfg.SweepInterval).
		Bool("redis", cfg.RedisAddr != "").
		Bool("archive", cfg.ArchiveEndpoint != "").
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.PageSize <= 0 || c.PageSize > 20 {
		return fmt.Errorf("page_size must be in 1..20, got %d", c.PageSize)
	}
	if c.FetchRetries < 1 {
		return fmt.Errorf("fetch_retries must be at least 1, got %d", c.FetchRetries)
	}
	if c.SweepInterval <= 0 || c.SweepTimeout <= 0 {
		return fmt.Errorf("sweep_interval and sweep_timeout must be positive")
	}
	if c.ArchiveEndpoint != "" && c.ArchiveBucket == "" {
		return fmt.Errorf("archive_bucket is required when archive_endpoint is set")
	}
	return nil
}
