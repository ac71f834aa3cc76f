package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
	BackendS3    = "s3"
)

type Config struct {
	Port                     int           `env:"PORT" envDefault:"8080"`
	StoreBackend             string        `env:"STORE_BACKEND" envDefault:"sql"`
	DatabaseDriver           string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL              string        `env:"DATABASE_URL"`
	RedisURL                 string        `env:"REDIS_URL"`
	S3Bucket                 string        `env:"S3_BUCKET"`
	S3Prefix                 string        `env:"S3_PREFIX" envDefault:"records/"`
	S3Endpoint               string        `env:"S3_ENDPOINT"`
	S3Region                 string        `env:"S3_REGION" envDefault:"us-west-2"`
	AWSAccessKeyID           string        `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey       string        `env:"AWS_SECRET_ACCESS_KEY"`
	AWSSessionToken          string        `env:"AWS_SESSION_TOKEN"`
	SessionTTLAttribute      string        `env:"SESSION_TTL_ATTRIBUTE" envDefault:"ttl"`
	SessionVersioning        bool          `env:"SESSION_VERSIONING" envDefault:"false"`
	SessionDefaultExpiration time.Duration `env:"SESSION_DEFAULT_EXPIRATION" envDefault:"1h"`
	ConnIdleTimeout          time.Duration `env:"CONN_IDLE_TIMEOUT" envDefault:"30m"`
	AdminPasswordHash        string        `env:"ADMIN_PASSWORD_HASH"`
	LogLevel                 string        `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case BackendSQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=sql")
		}
		if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite3" {
			return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite3, got %q", c.DatabaseDriver)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORE_BACKEND=s3")
		}
		if c.AWSAccessKeyID == "" || c.AWSSecretAccessKey == "" {
			return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required when STORE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of sql, redis, s3, got %q", c.StoreBackend)
	}

	if c.SessionTTLAttribute == "session" {
		return fmt.Errorf("SESSION_TTL_ATTRIBUTE cannot be %q: the name is reserved for the session payload", c.SessionTTLAttribute)
	}

	if c.AdminPasswordHash != "" {
		if !strings.HasPrefix(c.AdminPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2y$") {
			return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
		}
	}

	if isProduction {
		if c.AdminPasswordHash == "" {
			log.Warn().Msg("ADMIN_PASSWORD_HASH is empty in production: admin endpoints disabled")
		}
		if c.StoreBackend == BackendRedis && strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.StoreBackend == BackendSQL && c.DatabaseDriver == "sqlite3" {
			log.Warn().Msg("sqlite3 record store in production: sessions are not shared between instances")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
