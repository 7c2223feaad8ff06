package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Database    DatabaseConfig    `yaml:"database" envconfig:"DATABASE"`
	Redis       RedisConfig       `yaml:"redis" envconfig:"REDIS"`
	Auth        AuthConfig        `yaml:"auth" envconfig:"AUTH"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Entitlement EntitlementConfig `yaml:"entitlement" envconfig:"ENTITLEMENT"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig throttles activation and eligibility traffic per
// server instance.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// DatabaseConfig contains PostgreSQL connection settings. With Embedded
// set the server runs on the in-memory store instead (single-node mode,
// no external database).
type DatabaseConfig struct {
	Embedded bool   `yaml:"embedded" envconfig:"EMBEDDED" default:"false"`
	Host     string `yaml:"host" envconfig:"HOST" default:"localhost"`
	Port     int    `yaml:"port" envconfig:"PORT" default:"5432"`
	User     string `yaml:"user" envconfig:"USER" default:"poscore"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	Database string `yaml:"database" envconfig:"NAME" default:"poscore"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"SSL_MODE" default:"disable"`
}

// RedisConfig configures the shared registration-volume window. When
// disabled the engine falls back to an in-process window.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	Addr     string `yaml:"addr" envconfig:"ADDR" default:"localhost:6379"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB" default:"0"`
}

// AuthConfig configures verification of administrative tokens.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"24h"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// EntitlementConfig tunes the engine's policy knobs.
type EntitlementConfig struct {
	DefaultTrialCredits   int           `yaml:"default_trial_credits" envconfig:"DEFAULT_TRIAL_CREDITS" default:"50"`
	VolumeThreshold       int           `yaml:"volume_threshold" envconfig:"VOLUME_THRESHOLD" default:"3"`
	VolumeWindow          time.Duration `yaml:"volume_window" envconfig:"VOLUME_WINDOW" default:"24h"`
	DefaultMaxActivations int           `yaml:"default_max_activations" envconfig:"DEFAULT_MAX_ACTIVATIONS" default:"3"`
}

// Load loads configuration from environment variables and an optional
// YAML file. Environment variables take precedence.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("POSCORE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func configFilePath() string {
	if path := os.Getenv("POSCORE_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence).
func mergeConfigs(fileCfg, envCfg Config) Config {
	if envCfg.Server.Port == 0 {
		envCfg.Server.Port = fileCfg.Server.Port
	}
	if envCfg.Database.Host == "" {
		envCfg.Database.Host = fileCfg.Database.Host
	}
	if envCfg.Database.Password == "" {
		envCfg.Database.Password = fileCfg.Database.Password
	}
	if envCfg.Redis.Addr == "" {
		envCfg.Redis.Addr = fileCfg.Redis.Addr
	}
	if envCfg.Auth.JWTSecret == "" {
		envCfg.Auth.JWTSecret = fileCfg.Auth.JWTSecret
	}
	if envCfg.Logging.Level == "" {
		envCfg.Logging.Level = fileCfg.Logging.Level
	}
	return envCfg
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if !c.Database.Embedded && c.Database.Password == "" {
		return fmt.Errorf("database.password is required unless database.embedded is set")
	}
	if c.Entitlement.DefaultTrialCredits <= 0 {
		return fmt.Errorf("entitlement.default_trial_credits must be positive")
	}
	if c.Entitlement.VolumeThreshold <= 0 {
		return fmt.Errorf("entitlement.volume_threshold must be positive")
	}
	return nil
}
