// Package config loads process configuration from environment
// variables, following the source's env-var-with-defaults convention
// rather than a flags package or a config file loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every setting a flowweaver service needs.
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Compiler CompilerConfig
}

// ServiceConfig holds HTTP server and logging settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds the Postgres artifact store's connection
// settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// CacheConfig holds the Redis artifact cache's settings.
type CacheConfig struct {
	Enabled    bool
	Address    string
	DefaultTTL time.Duration
}

// CompilerConfig resolves the core pipeline's Open Questions (§9) that a
// deployment, rather than the spec, gets to decide.
type CompilerConfig struct {
	// StrictTypesDefault is loaded from FLOWWEAVER_STRICT_TYPES, but no
	// code reads it: Workflow.StrictTypes is set only by an @strictTypes
	// tag in the source.
	StrictTypesDefault bool
	// ScopeLeniency suppresses SCOPE_WITHOUT_CONTEXT for instances whose
	// parent scope has no matching @scope declaration.
	ScopeLeniency bool
}

// Load reads configuration from the environment, applying the same
// defaults-with-override pattern throughout.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("FLOWWEAVER_LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "flowweaver"),
			User:        getEnv("POSTGRES_USER", "flowweaver"),
			Password:    getEnv("POSTGRES_PASSWORD", "flowweaver"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			Address:    getEnv("REDIS_ADDR", "localhost:6379"),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", time.Hour),
		},
		Compiler: CompilerConfig{
			StrictTypesDefault: getEnvBool("FLOWWEAVER_STRICT_TYPES", false),
			ScopeLeniency:      getEnvBool("FLOWWEAVER_SCOPE_LENIENCY", false),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks for configuration invalid enough to refuse startup
// over.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	return nil
}

// DatabaseURL returns the Postgres connection string pgxpool expects.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
