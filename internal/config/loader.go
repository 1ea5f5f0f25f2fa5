package config

import (
	"errors"
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
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
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

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Ingest validation
	if strings.TrimSpace(c.Ingest.StagingTable) == "" {
		errs = append(errs, "STAGING_TABLE must not be empty")
	} else if n := len(strings.Split(c.Ingest.StagingTable, ".")); n > 2 {
		errs = append(errs, fmt.Sprintf("STAGING_TABLE (%q) must be table or schema.table", c.Ingest.StagingTable))
	}
	validScopes := map[string]bool{"lock": true, "any": true}
	if !validScopes[strings.ToLower(c.Ingest.FallbackScope)] {
		errs = append(errs, fmt.Sprintf("INGEST_FALLBACK_SCOPE (%q) must be one of: lock, any", c.Ingest.FallbackScope))
	}
	if c.Ingest.LockTimeout < 0 {
		errs = append(errs, "INGEST_LOCK_TIMEOUT must be non-negative")
	}
	if c.Ingest.SampleSize <= 0 {
		errs = append(errs, "INGEST_SAMPLE_SIZE must be positive")
	}
	if c.Ingest.PreviewRows < 0 {
		errs = append(errs, "INGEST_PREVIEW_ROWS must be non-negative")
	}
	if c.Ingest.FlushEvery <= 0 {
		errs = append(errs, "INGEST_FLUSH_EVERY must be positive")
	}
	if c.Ingest.DownloadTimeout <= 0 {
		errs = append(errs, "INGEST_DOWNLOAD_TIMEOUT must be positive")
	}
	validEncodings := map[string]bool{"utf-8": true, "utf8": true, "windows-1252": true, "cp1252": true, "latin1": true, "iso-8859-1": true}
	if !validEncodings[strings.ToLower(c.Ingest.SourceEncoding)] {
		errs = append(errs, fmt.Sprintf("INGEST_SOURCE_ENCODING (%q) must be one of: utf-8, windows-1252, latin1", c.Ingest.SourceEncoding))
	}

	// Upload validation
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Build validation
	if c.Build.Timeout <= 0 {
		errs = append(errs, "BUILD_TIMEOUT must be positive")
	}
	if c.Build.TailLines <= 0 {
		errs = append(errs, "BUILD_TAIL_LINES must be positive")
	}
	if c.Build.RetentionDays <= 0 {
		errs = append(errs, "BUILD_RETENTION_DAYS must be positive")
	}
	if c.Build.PruneInterval <= 0 {
		errs = append(errs, "BUILD_PRUNE_INTERVAL must be positive")
	}
	if c.Build.Remote() && !strings.HasPrefix(c.Build.RunnerURL, "http://") && !strings.HasPrefix(c.Build.RunnerURL, "https://") {
		errs = append(errs, "DBT_RUNNER_URL must be LOCAL or an http(s) URL")
	}

	// Inbox validation
	if c.Inbox.Dir != "" && c.Inbox.Settle <= 0 {
		errs = append(errs, "INBOX_SETTLE must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
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

// RequireDatabase reports an error when no connection string is configured.
// Commands that never reach the warehouse (inspect, build logs) skip it.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and tokens are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, SearchPath: %q}, ",
		c.Database.MaxConns, c.Database.SearchPath))
	b.WriteString(fmt.Sprintf("Ingest: {StagingTable: %q, FallbackDelete: %v, FallbackScope: %q}, ",
		c.Ingest.StagingTable, c.Ingest.FallbackDelete, c.Ingest.FallbackScope))
	b.WriteString(fmt.Sprintf("Upload: {MaxFileSize: %d, MaxConcurrent: %d}, ",
		c.Upload.MaxFileSize, c.Upload.MaxConcurrent))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Build: {Remote: %v, ProjectDir: %q, Token: [MASKED]}, ",
		c.Build.Remote(), c.Build.ProjectDir))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
