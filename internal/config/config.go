package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Rate-limit backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
// It is loaded once at startup and not modified afterwards.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Auth      AuthConfig
	AWS       AWSConfig
	Tables    TablesConfig
	RateLimit RateLimitConfig
	Query     QueryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"ppmt-amp-api"`
	Environment string `envconfig:"APP_ENV" default:"production"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// AuthConfig holds request signing settings.
type AuthConfig struct {
	// Secret is the shared HMAC key. Ignored when SecretCiphertext is set.
	Secret string `envconfig:"APP_SECRET" default:""`

	// SecretCiphertext is a base64 KMS ciphertext of the shared key.
	SecretCiphertext string `envconfig:"APP_SECRET_CIPHERTEXT" default:""`

	ValidAppIDs []string `envconfig:"VALID_APP_IDS" default:"ppmt-amp-ios-v1"`
}

// AWSConfig holds AWS client settings.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Endpoint overrides the DynamoDB endpoint (DynamoDB Local, LocalStack).
	Endpoint string `envconfig:"DYNAMODB_ENDPOINT" default:""`

	AssumeRoleARN string        `envconfig:"AWS_ASSUME_ROLE_ARN" default:""`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
	MaxRetries    int           `envconfig:"AWS_MAX_RETRIES" default:"3"`
}

// TablesConfig names the DynamoDB tables.
type TablesConfig struct {
	Items      string `envconfig:"ITEMS_TABLE" default:"PPMT-AMP-Items"`
	Series     string `envconfig:"SERIES_TABLE" default:"PPMT-AMP-Series"`
	RateLimits string `envconfig:"RATE_LIMIT_TABLE" default:"PPMT-AMP-RateLimits"`
}

// RateLimitConfig selects and configures the counter store.
type RateLimitConfig struct {
	Backend string `envconfig:"RATE_LIMIT_BACKEND" default:"dynamodb"`

	RedisHost      string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort      int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"ppmt-amp:ratelimit"`

	SQLitePath string `envconfig:"RATE_LIMIT_DB_PATH" default:"./data/ratelimit.db"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"3306"`
	DBName     string `envconfig:"DB_NAME" default:"ppmt_amp"`
	DBUser     string `envconfig:"DB_USER" default:"root"`
	DBPassword string `envconfig:"DB_PASS" default:""`

	PGHost     string `envconfig:"PG_HOST" default:"localhost"`
	PGPort     int    `envconfig:"PG_PORT" default:"5432"`
	PGName     string `envconfig:"PG_NAME" default:"ppmt_amp"`
	PGUser     string `envconfig:"PG_USER" default:"postgres"`
	PGPassword string `envconfig:"PG_PASS" default:""`
	PGSSLMode  string `envconfig:"PG_SSLMODE" default:"disable"`

	// CleanupInterval is how often the SQL janitor prunes stale counters.
	CleanupInterval time.Duration `envconfig:"RATE_LIMIT_CLEANUP_INTERVAL" default:"10m"`
}

// QueryConfig holds query routing settings.
type QueryConfig struct {
	RulesPath     string `envconfig:"QUERY_RULES_PATH" default:""`
	IndexFallback bool   `envconfig:"QUERY_INDEX_FALLBACK" default:"true"`
	DefaultLimit  int    `envconfig:"QUERY_DEFAULT_LIMIT" default:"50"`
	MaxLimit      int    `envconfig:"QUERY_MAX_LIMIT" default:"100"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// RedisAddress returns the Redis address in host:port format.
func (r *RateLimitConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", r.RedisHost, r.RedisPort)
}

// MySQLDSN returns the MySQL data source name.
func (r *RateLimitConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		r.DBUser, r.DBPassword, r.DBHost, r.DBPort, r.DBName)
}

// PostgresDSN returns the PostgreSQL connection string.
func (r *RateLimitConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		r.PGUser, r.PGPassword, r.PGHost, r.PGPort, r.PGName, r.PGSSLMode)
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	backends := []string{BackendDynamoDB, BackendRedis, BackendSQLite, BackendMySQL, BackendPostgres, BackendMemory}
	if !slices.Contains(backends, c.RateLimit.Backend) {
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	if len(c.Auth.ValidAppIDs) == 0 {
		return fmt.Errorf("VALID_APP_IDS must not be empty")
	}
	if c.Query.MaxLimit < 1 {
		return fmt.Errorf("QUERY_MAX_LIMIT must be positive")
	}
	if c.Query.DefaultLimit < 1 || c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("QUERY_DEFAULT_LIMIT must be within 1..%d", c.Query.MaxLimit)
	}
	if c.AWS.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
