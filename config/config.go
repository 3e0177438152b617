package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything main needs to wire the application.
// Values come from the environment (optionally a .env file loaded by main).
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Session  SessionConfig
	SMTP     SMTPConfig
	Cache    CacheConfig
	MinIO    MinIOConfig
}

type AppConfig struct {
	Environment string // development, production
	Port        string
	Domain      string // public base URL used in email links
	CORSOrigins []string
}

type DatabaseConfig struct {
	Driver string // sqlite or postgres
	SQLite string
	URL    string
}

type SessionConfig struct {
	Secret string
	MaxAge int
	Secure bool
}

type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

// Enabled reports whether outbound mail can actually be delivered.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

type CacheConfig struct {
	Driver   string // file, redis or none
	Dir      string
	RedisURL string
	TTL      time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("PORT", "8080"),
			Domain:      getEnv("DOMAIN", "http://localhost:8080"),
			CORSOrigins: []string{getEnv("CORS_ORIGIN", "http://localhost:3000")},
		},
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			SQLite: os.Getenv("sqlite_db"),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Session: SessionConfig{
			Secret: os.Getenv("SESSION_SECRET"),
			MaxAge: getEnvInt("SESSION_MAX_AGE", 86400*7),
			Secure: getEnvBool("SESSION_SECURE", false),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", "587"),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", "noreply@localhost"),
		},
		Cache: CacheConfig{
			Driver:   getEnv("CACHE_DRIVER", "file"),
			Dir:      getEnv("CACHE_DIR", "cache"),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
			TTL:      time.Duration(getEnvInt("CACHE_TTL_MINUTES", 60)) * time.Minute,
		},
		MinIO: MinIOConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getEnv("MINIO_BUCKET", "quill"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET environment variable not set")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite == "" {
			return fmt.Errorf("sqlite_db not set")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("unsupported CACHE_DRIVER %q", c.Cache.Driver)
	}
	if c.App.Environment == "production" && !c.Session.Secure {
		fmt.Println("WARNING: SESSION_SECURE is false in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
