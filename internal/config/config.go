// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Build    BuildConfig
	Inbox    InboxConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 0, uploads can be large)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"0s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, builds are slow)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds a single ingestion or build request (default: 30m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	// Only commands that touch the warehouse require it; see RequireDatabase.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// SearchPath is set on every new connection
	SearchPath string `env:"DB_SEARCH_PATH" default:"\"SllupMarket\", public"`
}

// IngestConfig holds the staging pipeline settings.
type IngestConfig struct {
	// StagingTable is the relation loaded by every ingestion, optionally schema-qualified
	StagingTable string `env:"STAGING_TABLE" default:"staging.raw_vendas_achatado"`

	// FallbackDelete replaces a failed TRUNCATE with DELETE FROM in full mode (default: true)
	FallbackDelete bool `env:"FALLBACK_DELETE_ON_TRUNCATE_ERROR" default:"true"`

	// FallbackScope selects which TRUNCATE failures trigger the fallback: lock or any (default: lock)
	FallbackScope string `env:"INGEST_FALLBACK_SCOPE" default:"lock"`

	// LockTimeout is applied with SET LOCAL before clearing; 0 disables it
	LockTimeout time.Duration `env:"INGEST_LOCK_TIMEOUT" default:"0s"`

	// SampleSize is the number of characters read for dialect detection (default: 10000)
	SampleSize int `env:"INGEST_SAMPLE_SIZE" default:"10000"`

	// PreviewRows is the number of source rows echoed back to the caller (default: 5)
	PreviewRows int `env:"INGEST_PREVIEW_ROWS" default:"5"`

	// FlushEvery is the row interval at which the staged file is flushed (default: 50000)
	FlushEvery int `env:"INGEST_FLUSH_EVERY" default:"50000"`

	// DownloadTimeout bounds a remote fetch (default: 15m)
	DownloadTimeout time.Duration `env:"INGEST_DOWNLOAD_TIMEOUT" default:"15m"`

	// AliasFile is an optional YAML file with extra header aliases
	AliasFile string `env:"INGEST_ALIAS_FILE"`

	// SourceEncoding is the text encoding of sources: utf-8, windows-1252 or latin1 (default: utf-8)
	SourceEncoding string `env:"INGEST_SOURCE_ENCODING" default:"utf-8"`

	// TempDir holds downloads and staged files; empty means the OS default
	TempDir string `env:"INGEST_TEMP_DIR"`
}

// UploadConfig holds upload admission settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed source size in bytes (default: 2GiB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"2147483648"`

	// MaxConcurrent is the maximum number of parallel ingestions (default: 1)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long to wait for an ingestion slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for ingestion and build endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on mutating routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// BuildConfig holds the downstream transformation build settings.
type BuildConfig struct {
	// RunnerURL delegates builds to a remote runner. Empty or LOCAL runs them in-process.
	RunnerURL string `env:"DBT_RUNNER_URL"`

	// RunnerToken is sent as X-Token to the remote runner
	RunnerToken string `env:"DBT_RUNNER_TOKEN"`

	// ProjectDir is the working directory of local builds (default: dbt_project)
	ProjectDir string `env:"DBT_PROJECT_DIR" default:"dbt_project"`

	// Executable is the build tool binary (default: dbt)
	Executable string `env:"DBT_EXECUTABLE" default:"dbt"`

	// Timeout bounds a whole build run (default: 9m)
	Timeout time.Duration `env:"BUILD_TIMEOUT" default:"9m"`

	// TailLines is how many trailing output lines a run keeps (default: 400)
	TailLines int `env:"BUILD_TAIL_LINES" default:"400"`

	// LogDB is the SQLite file holding the run log (default: data/build_runs.db)
	LogDB string `env:"BUILD_LOG_DB" default:"data/build_runs.db"`

	// RetentionDays is how long run records are kept (default: 30)
	RetentionDays int `env:"BUILD_RETENTION_DAYS" default:"30"`

	// PruneInterval is how often old runs are pruned (default: 24h)
	PruneInterval time.Duration `env:"BUILD_PRUNE_INTERVAL" default:"24h"`
}

// InboxConfig holds the watched drop-folder settings.
type InboxConfig struct {
	// Dir is the folder watched for new sources; empty disables the inbox
	Dir string `env:"INBOX_DIR"`

	// Mode is the load mode used for dropped files (default: full)
	Mode string `env:"INBOX_MODE" default:"full"`

	// DateFormat is the date format used for dropped files (default: YYYY-MM-DD)
	DateFormat string `env:"INBOX_DATE_FORMAT" default:"YYYY-MM-DD"`

	// Settle is how long a file must stay unchanged before it is ingested (default: 2s)
	Settle time.Duration `env:"INBOX_SETTLE" default:"2s"`

	// RunBuild triggers a build after each successful inbox ingestion (default: false)
	RunBuild bool `env:"INBOX_RUN_BUILD" default:"false"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Remote reports whether builds are delegated to a runner service.
func (c *BuildConfig) Remote() bool {
	u := strings.TrimSpace(c.RunnerURL)
	return u != "" && !strings.EqualFold(u, "LOCAL")
}

// RunnerName is how the build runner is reported in health checks.
func (c *BuildConfig) RunnerName() string {
	if c.Remote() {
		return c.RunnerURL
	}
	return "LOCAL"
}
