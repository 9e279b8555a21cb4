package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Redis campaign cache configuration
	Redis RedisConfig `env:",prefix=REDIS_"`

	// Kafka event publishing configuration
	Kafka KafkaConfig `env:",prefix=KAFKA_"`

	// Coupon generation configuration
	Generation GenerationConfig `env:",prefix=GENERATION_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Driver      string `env:"DRIVER,default=postgres"` // postgres or memory
	Host        string `env:"HOST,default=localhost"`
	Port        string `env:"PORT,default=5432"`
	User        string `env:"USER,default=postgres"`
	Password    string `env:"PASSWORD,default=postgres"`
	Name        string `env:"NAME,default=coupon_system"`
	SSLMode     string `env:"SSL_MODE,default=disable"`
	MaxConns    int    `env:"MAX_CONNS,default=25"`
	MinConns    int    `env:"MIN_CONNS,default=5"`
	AutoMigrate bool   `env:"AUTO_MIGRATE,default=false"`
}

// RedisConfig holds the optional campaign cache. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `env:"ADDR"`
	Password    string        `env:"PASSWORD"`
	DB          int           `env:"DB,default=0"`
	CampaignTTL time.Duration `env:"CAMPAIGN_TTL,default=1m"`
}

// KafkaConfig holds the optional event publisher. No brokers disables it.
type KafkaConfig struct {
	Brokers          []string `env:"BROKERS"`
	TopicRedemptions string   `env:"TOPIC_REDEMPTIONS,default=coupon.redemptions"`
	TopicGeneration  string   `env:"TOPIC_GENERATION,default=coupon.generation"`
	Async            bool     `env:"ASYNC,default=true"`
}

// GenerationConfig tunes the batch issuer and its worker pool.
type GenerationConfig struct {
	Workers       int           `env:"WORKERS,default=4"`
	QueueSize     int           `env:"QUEUE_SIZE,default=64"`
	ChunkSize     int           `env:"CHUNK_SIZE,default=1000"`
	DefaultExpiry time.Duration `env:"DEFAULT_EXPIRY,default=8760h"`
	EstimatedRate int           `env:"ESTIMATED_RATE,default=50000"` // codes per second
	MaxRetries    uint64        `env:"MAX_RETRIES,default=5"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME,default=coupon-service"`
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Configuration("failed to read .env file", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith loads configuration using the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, apperrors.Configuration("failed to process environment config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return apperrors.Configuration(fmt.Sprintf("unsupported DB_DRIVER %q", c.Database.Driver), nil)
	}
	if c.Database.Driver == "memory" && c.App.IsProduction() {
		return apperrors.Configuration("DB_DRIVER=memory is not allowed in production", nil)
	}
	if c.Database.Driver == "postgres" && c.Database.Host == "" {
		return apperrors.Configuration("DB_HOST is required for the postgres driver", nil)
	}
	if c.Generation.Workers < 1 {
		return apperrors.Configuration("GENERATION_WORKERS must be at least 1", nil)
	}
	if c.Generation.QueueSize < 1 {
		return apperrors.Configuration("GENERATION_QUEUE_SIZE must be at least 1", nil)
	}
	if c.Generation.ChunkSize < 1 || c.Generation.ChunkSize > 8000 {
		return apperrors.Configuration("GENERATION_CHUNK_SIZE must be between 1 and 8000", nil)
	}
	if c.Generation.DefaultExpiry <= 0 {
		return apperrors.Configuration("GENERATION_DEFAULT_EXPIRY must be positive", nil)
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Enabled reports whether a Redis address is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Enabled reports whether any Kafka broker is configured.
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// EffectiveLogLevel returns the configured level, forced to debug when
// APP_DEBUG is set.
func (c *AppConfig) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
