package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	App         AppConfig
	Cache       CacheConfig
	Store       StoreConfig
	Purchase    PurchaseConfig
	Admin       AdminConfig
	Events      EventsConfig
	Telemetry   TelemetryConfig
	Maintenance MaintenanceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"sweetshop-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// CacheConfig holds cache settings. The cache backs session tokens and
// purchase idempotency keys, never stock.
type CacheConfig struct {
	Type       string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	IdemTTL    time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"10m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, postgres, mysql, mongodb, memory

	SQLitePath string `envconfig:"SQLITE_PATH" default:"./data/sweetshop.db"`

	// PostgreSQL settings
	PGHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PGPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PGName     string `envconfig:"POSTGRES_DB" default:"sweetshop"`
	PGUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PGPassword string `envconfig:"POSTGRES_PASSWORD" default:""`
	PGSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	// MySQL settings
	MySQLHost     string `envconfig:"MYSQL_HOST" default:"localhost"`
	MySQLPort     int    `envconfig:"MYSQL_PORT" default:"3306"`
	MySQLName     string `envconfig:"MYSQL_DB" default:"sweetshop"`
	MySQLUser     string `envconfig:"MYSQL_USER" default:"root"`
	MySQLPassword string `envconfig:"MYSQL_PASSWORD" default:""`

	// MongoDB settings
	MongoURI      string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"sweetshop"`
}

// PurchaseConfig bounds the atomic purchase and restock units.
type PurchaseConfig struct {
	TxTimeout     time.Duration `envconfig:"PURCHASE_TX_TIMEOUT" default:"5s"`
	MaxRetries    uint64        `envconfig:"PURCHASE_MAX_RETRIES" default:"3"`
	RetryInterval time.Duration `envconfig:"PURCHASE_RETRY_INTERVAL" default:"20ms"`
}

// AdminConfig describes the account seeded at startup. Empty email disables seeding.
type AdminConfig struct {
	Email    string `envconfig:"ADMIN_EMAIL" default:""`
	Password string `envconfig:"ADMIN_PASSWORD" default:""`
	Name     string `envconfig:"ADMIN_NAME" default:"Administrator"`
}

// EventsConfig holds Kafka settings. No brokers means events are dropped.
type EventsConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:""`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"sweetshop.events"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool   `envconfig:"OTEL_ENABLED" default:"false"`
	Endpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4318"`
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"sweetshop-api"`
	Insecure    bool   `envconfig:"OTEL_INSECURE" default:"true"`
}

// MaintenanceConfig holds background job settings.
type MaintenanceConfig struct {
	VoucherSweepInterval time.Duration `envconfig:"VOUCHER_SWEEP_INTERVAL" default:"1h"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.PGUser, s.PGPassword, s.PGHost, s.PGPort, s.PGName, s.PGSSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (s *StoreConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true",
		s.MySQLUser, s.MySQLPassword, s.MySQLHost, s.MySQLPort, s.MySQLName)
}

// KafkaEnabled reports whether at least one broker is configured.
func (e *EventsConfig) KafkaEnabled() bool {
	for _, b := range e.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Store.Type {
	case "sqlite", "postgres", "mysql", "mongodb", "memory":
	default:
		return nil, fmt.Errorf("unsupported STORE_TYPE %q", cfg.Store.Type)
	}

	if cfg.Purchase.TxTimeout <= 0 {
		return nil, fmt.Errorf("PURCHASE_TX_TIMEOUT must be positive")
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
