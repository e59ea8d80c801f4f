package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DefaultAuditHashKey is the development chain key. It is rejected in production.
const DefaultAuditHashKey = "helpdesk-dev-audit-chain-key"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for the audit chain. When nil, the chain uses the main DB.
	Auth          AuthConfig
	Audit         AuditConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Driver           string // postgres or sqlite
	SQLitePath       string // From SQLITE_PATH when Driver is sqlite
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds token validation configuration.
// JWKSURL enables RS256 tokens from the identity provider; JWTSecret enables HS256 tokens.
type AuthConfig struct {
	JWKSURL      string
	Issuer       string
	Audience     string
	JWKSCacheTTL time.Duration
	HTTPTimeout  time.Duration
	JWTSecret    string
	TokenTTL     time.Duration
}

// AuditConfig holds hash chain configuration
type AuditConfig struct {
	HashAlgorithm      string
	HashKey            string
	AppendMaxAttempts  int
	AppendRetryBackoff time.Duration
	VerifyBatchSize    int
	VerifyMaxReported  int
	RecorderBuffer     int
	MonitorInterval    time.Duration // 0 disables the chain monitor
	MonitorOverlap     time.Duration
}

// KafkaConfig holds audit export configuration. Export is disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers      []string
	AuditTopic   string
	Username     string // SASL/PLAIN, optional
	Password     string
	TLS          bool
	WriteTimeout time.Duration
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Auth: AuthConfig{
			JWKSURL:      getEnv("AUTH_JWKS_URL", ""),
			Issuer:       getEnv("AUTH_ISSUER", ""),
			Audience:     getEnv("AUTH_AUDIENCE", ""),
			JWKSCacheTTL: getEnvAsDuration("AUTH_JWKS_CACHE_TTL", time.Hour),
			HTTPTimeout:  getEnvAsDuration("AUTH_HTTP_TIMEOUT", 10*time.Second),
			JWTSecret:    getEnv("AUTH_JWT_SECRET", ""),
			TokenTTL:     getEnvAsDuration("AUTH_TOKEN_TTL", time.Hour),
		},
		Audit: AuditConfig{
			HashAlgorithm:      strings.ToLower(getEnv("AUDIT_HASH_ALGORITHM", "hmac-sha256")),
			HashKey:            getEnv("AUDIT_HASH_KEY", DefaultAuditHashKey),
			AppendMaxAttempts:  getEnvAsInt("AUDIT_APPEND_MAX_ATTEMPTS", 3),
			AppendRetryBackoff: getEnvAsDuration("AUDIT_APPEND_RETRY_BACKOFF", 50*time.Millisecond),
			VerifyBatchSize:    getEnvAsInt("AUDIT_VERIFY_BATCH_SIZE", 500),
			VerifyMaxReported:  getEnvAsInt("AUDIT_VERIFY_MAX_REPORTED", 1000),
			RecorderBuffer:     getEnvAsInt("AUDIT_RECORDER_BUFFER", 256),
			MonitorInterval:    getEnvAsDuration("AUDIT_MONITOR_INTERVAL", 0),
			MonitorOverlap:     getEnvAsDuration("AUDIT_MONITOR_OVERLAP", time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsSlice("KAFKA_BROKERS", nil),
			AuditTopic:   getEnv("KAFKA_AUDIT_TOPIC", ""),
			Username:     getEnv("KAFKA_USERNAME", ""),
			Password:     getEnv("KAFKA_PASSWORD", ""),
			TLS:          getEnvAsBool("KAFKA_TLS", false),
			WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if c.AuditDatabase != nil && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("DATABASE_URL_AUDIT requires the postgres driver")
	}

	// Audit chain validation
	switch c.Audit.HashAlgorithm {
	case "hmac-sha256", "blake3":
	default:
		return fmt.Errorf("unsupported audit hash algorithm %q", c.Audit.HashAlgorithm)
	}
	if c.Audit.HashKey == "" {
		return fmt.Errorf("audit hash key is required")
	}
	if c.Audit.AppendMaxAttempts < 1 {
		return fmt.Errorf("audit append max attempts must be at least 1")
	}
	if c.Audit.VerifyBatchSize < 1 {
		return fmt.Errorf("audit verify batch size must be at least 1")
	}
	if c.Audit.MonitorInterval < 0 {
		return fmt.Errorf("audit monitor interval must not be negative")
	}

	// Kafka export is all or nothing
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		return fmt.Errorf("KAFKA_AUDIT_TOPIC is required when KAFKA_BROKERS is set")
	}

	// Identity and chain key are required in production
	if c.IsProduction() {
		if c.Audit.HashKey == DefaultAuditHashKey {
			return fmt.Errorf("AUDIT_HASH_KEY must be set in production")
		}
		if c.Auth.JWKSURL == "" && c.Auth.JWTSecret == "" {
			return fmt.Errorf("an identity provider (AUTH_JWKS_URL or AUTH_JWT_SECRET) is required in production")
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (c *DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
		return nil
	case DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	// Postgres: DATABASE_URL or DB_* vars
	if c.ConnectionString == "" && c.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.ConnectionString == "" {
		if c.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// KafkaEnabled reports whether audit entries are exported to Kafka
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("sqlite path=%s", c.SQLitePath)
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_DRIVER plus DATABASE_URL, DB_* or SQLITE_PATH
func loadDatabaseConfig() DatabaseConfig {
	driver := strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres))
	if driver == DriverSQLite {
		return DatabaseConfig{
			Driver:     driver,
			SQLitePath: getEnv("SQLITE_PATH", "helpdesk.db"),
		}
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			Driver:           driver,
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Driver:          driver,
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "helpdesk_password"),
		Database:        getEnv("DB_NAME", "helpdesk"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (the chain uses the main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		Driver:           DriverPostgres,
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
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

func getEnvAsBool(key string, defaultValue bool) bool {
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated value, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
