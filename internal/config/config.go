// Package config provides centralized configuration management for the ETL.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Blob drivers.
const (
	BlobFS     = "fs"
	BlobS3     = "s3"
	BlobMemory = "memory"
)

// Config holds all pipeline configuration.
// All settings can be configured via environment variables.
type Config struct {
	Pipeline PipelineConfig
	Store    StoreConfig
	Database DatabaseConfig
	Load     LoadConfig
	Blob     BlobConfig
	Server   ServerConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// PipelineConfig holds Extract and Transform settings.
type PipelineConfig struct {
	// SourceDir is the directory holding the per-level source files (default: raw)
	SourceDir string `env:"ETL_SOURCE_DIR" envAlt:"DATA_PATH" default:"raw"`

	// NationalName is the display name of the single National entity (default: Colombia)
	NationalName string `env:"ETL_NATIONAL_NAME" default:"Colombia"`

	// ImplicitParents creates unseen parents on demand instead of rejecting the row
	ImplicitParents bool `env:"ETL_IMPLICIT_PARENTS" default:"false"`

	// DefaultMeasureType fills sources that carry no measure type column
	DefaultMeasureType string `env:"ETL_DEFAULT_MEASURE_TYPE" default:"Prevalencia"`

	// RejectionSampleSize bounds the sample rows kept per rejection reason (default: 20)
	RejectionSampleSize int `env:"ETL_REJECTION_SAMPLE_SIZE" default:"20"`
}

// StoreConfig selects and locates the relational artifact store.
type StoreConfig struct {
	// Driver is sqlite or postgres (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// SQLiteDir is the directory holding per-run database files
	SQLiteDir string `env:"SQLITE_DIR" default:"sqlite_databases"`

	// SQLitePrefix is the artifact file name prefix
	SQLitePrefix string `env:"SQLITE_PREFIX" default:"inseguridad_alimentaria"`
}

// DatabaseConfig holds PostgreSQL connection settings, used with the postgres driver.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// LoadConfig holds Snapshot Loader settings.
type LoadConfig struct {
	// MaxAttempts bounds retries of a transient storage failure (default: 3)
	MaxAttempts int `env:"LOAD_MAX_ATTEMPTS" default:"3"`

	// RetryInitial is the first backoff interval (default: 200ms)
	RetryInitial time.Duration `env:"LOAD_RETRY_INITIAL" default:"200ms"`

	// RetryMax caps a single backoff interval (default: 5s)
	RetryMax time.Duration `env:"LOAD_RETRY_MAX" default:"5s"`

	// LockTimeout is how long to wait for the single-writer lock (default: 30s)
	LockTimeout time.Duration `env:"LOAD_LOCK_TIMEOUT" default:"30s"`

	// SkipChecks disables the post-load quality checks
	SkipChecks bool `env:"LOAD_SKIP_CHECKS" default:"false"`

	// Timeout is the maximum duration for the whole load stage (default: 10m)
	Timeout time.Duration `env:"LOAD_TIMEOUT" default:"10m"`
}

// BlobConfig locates the curated and processed tabular snapshots.
type BlobConfig struct {
	// Driver is fs, s3 or memory (default: fs)
	Driver string `env:"BLOB_DRIVER" default:"fs"`

	// Root is the fs driver base directory (default: artifacts)
	Root string `env:"BLOB_ROOT" default:"artifacts"`

	Bucket       string `env:"BLOB_S3_BUCKET"`
	Region       string `env:"BLOB_S3_REGION" default:"us-east-1"`
	Endpoint     string `env:"BLOB_S3_ENDPOINT"`
	AccessKey    string `env:"BLOB_S3_ACCESS_KEY"`
	SecretKey    string `env:"BLOB_S3_SECRET_KEY"`
	UsePathStyle bool   `env:"BLOB_S3_PATH_STYLE" default:"false"`
}

// ServerConfig holds inspection API settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`

	// APIKeys, when non-empty, are accepted in the X-API-Key header; /health stays open
	APIKeys []string `env:"SERVER_API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	// Textfile, when set, receives the run's metrics in text exposition format
	Textfile string `env:"METRICS_TEXTFILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
