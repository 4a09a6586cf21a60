package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadUnvalidated reads configuration without validating it, so callers can
// apply command-line overrides before calling Validate.
func LoadUnvalidated() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Pipeline
	if strings.TrimSpace(c.Pipeline.SourceDir) == "" {
		errs = append(errs, "ETL_SOURCE_DIR must not be empty")
	}
	if strings.TrimSpace(c.Pipeline.NationalName) == "" {
		errs = append(errs, "ETL_NATIONAL_NAME must not be empty")
	}
	if c.Pipeline.RejectionSampleSize < 0 {
		errs = append(errs, "ETL_REJECTION_SAMPLE_SIZE must be non-negative")
	}

	// Store
	switch strings.ToLower(c.Store.Driver) {
	case DriverSQLite:
		if c.Store.SQLiteDir == "" {
			errs = append(errs, "SQLITE_DIR is required for the sqlite driver")
		}
		if c.Store.SQLitePrefix == "" {
			errs = append(errs, "SQLITE_PREFIX must not be empty")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres driver")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns < 2 {
			errs = append(errs, "DB_MAX_CONNS must be at least 2 (lock holder plus writer)")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER (%q) must be one of: sqlite, postgres", c.Store.Driver))
	}

	// Load
	if c.Load.MaxAttempts <= 0 {
		errs = append(errs, "LOAD_MAX_ATTEMPTS must be positive")
	}
	if c.Load.RetryInitial <= 0 {
		errs = append(errs, "LOAD_RETRY_INITIAL must be positive")
	}
	if c.Load.RetryMax < c.Load.RetryInitial {
		errs = append(errs, "LOAD_RETRY_MAX must be >= LOAD_RETRY_INITIAL")
	}
	if c.Load.LockTimeout <= 0 {
		errs = append(errs, "LOAD_LOCK_TIMEOUT must be positive")
	}
	if c.Load.Timeout <= 0 {
		errs = append(errs, "LOAD_TIMEOUT must be positive")
	}

	// Blob
	switch strings.ToLower(c.Blob.Driver) {
	case BlobFS:
		if c.Blob.Root == "" {
			errs = append(errs, "BLOB_ROOT is required for the fs driver")
		}
	case BlobS3:
		if c.Blob.Bucket == "" {
			errs = append(errs, "BLOB_S3_BUCKET is required for the s3 driver")
		}
	case BlobMemory:
	default:
		errs = append(errs, fmt.Sprintf("BLOB_DRIVER (%q) must be one of: fs, s3, memory", c.Blob.Driver))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Pipeline: {SourceDir: %q, National: %q, ImplicitParents: %v}, ",
		c.Pipeline.SourceDir, c.Pipeline.NationalName, c.Pipeline.ImplicitParents))
	b.WriteString(fmt.Sprintf("Store: {Driver: %q, SQLiteDir: %q}, ", c.Store.Driver, c.Store.SQLiteDir))
	if c.Database.URL != "" {
		b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d}, ", c.Database.MaxConns))
	}
	b.WriteString(fmt.Sprintf("Load: {MaxAttempts: %d, SkipChecks: %v}, ", c.Load.MaxAttempts, c.Load.SkipChecks))
	b.WriteString(fmt.Sprintf("Blob: {Driver: %q, Root: %q, Bucket: %q}, ", c.Blob.Driver, c.Blob.Root, c.Blob.Bucket))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
