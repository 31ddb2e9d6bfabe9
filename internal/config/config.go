// Package config provides configuration management using viper.
// Values come from an optional config.yaml, overridden by environment
// variables such as SERVER_PORT or DATABASE_DSN.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the RGS
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Game     GameConfig     `mapstructure:"game"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration.
// Driver "memory" runs on the in-process store and needs no DSN.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AuthConfig holds bearer token configuration
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	Issuer      string        `mapstructure:"issuer"`
	// AdminToken guards the operator endpoints
	AdminToken string `mapstructure:"admin_token"`
}

// GameConfig holds game-related configuration
type GameConfig struct {
	CatalogPath     string        `mapstructure:"catalog_path"`
	SessionLifetime time.Duration `mapstructure:"session_lifetime"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CacheSize       int           `mapstructure:"cache_size"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// AuditConfig holds round record configuration
type AuditConfig struct {
	// HashKey keys the round hash; at most 64 bytes
	HashKey            string  `mapstructure:"hash_key"`
	LargeWinMultiplier float64 `mapstructure:"large_win_multiplier"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from config.yaml in configPath (optional) and the environment
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if len(c.Audit.HashKey) > 64 {
		return fmt.Errorf("audit.hash_key is %d bytes, at most 64 allowed", len(c.Audit.HashKey))
	}
	if c.Game.CatalogPath == "" {
		return errors.New("game.catalog_path is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost dbname=rgs sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.jwt_secret", "rgs-dev-secret-change-in-production")
	v.SetDefault("auth.token_expiry", "24h")
	v.SetDefault("auth.issuer", "slotify-rgs")
	v.SetDefault("auth.admin_token", "")

	v.SetDefault("game.catalog_path", "configs/games.yaml")
	v.SetDefault("game.session_lifetime", "30m")
	v.SetDefault("game.cleanup_interval", "1m")
	v.SetDefault("game.cache_size", 128)
	v.SetDefault("game.cache_ttl", "5m")

	v.SetDefault("audit.hash_key", "")
	v.SetDefault("audit.large_win_multiplier", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
