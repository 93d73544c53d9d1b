// Package config loads the importer's settings from environment variables
// with defaults, and validates them on startup so misconfiguration fails
// fast.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Store      StoreConfig
	Import     ImportConfig
	Origin     OriginConfig
	Supervisor SupervisorConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including the wait for
	// running file imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP and X-Forwarded-For headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys guard /api when non-empty; clients send X-API-Key
	APIKeys []string `env:"API_KEYS"`
}

// DatabaseConfig holds database connection settings. Only used by the
// postgres store.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is accepted too.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the embedded schema on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is memory or postgres (default: memory)
	Backend string `env:"STORE_BACKEND" default:"memory"`

	// Tenants registers "orgID/appID" pairs at startup
	Tenants []string `env:"STORE_TENANTS"`
}

// Tenant is one organization and application registered at startup.
type Tenant struct {
	OrganizationID uuid.UUID
	ApplicationID  uuid.UUID
}

// ParseTenants parses the STORE_TENANTS pairs.
func (c StoreConfig) ParseTenants() ([]Tenant, error) {
	out := make([]Tenant, 0, len(c.Tenants))
	for _, pair := range c.Tenants {
		org, app, ok := strings.Cut(pair, "/")
		if !ok {
			return nil, fmt.Errorf("tenant %q: want orgID/appID", pair)
		}
		orgID, err := uuid.Parse(strings.TrimSpace(org))
		if err != nil {
			return nil, fmt.Errorf("tenant %q: organization: %w", pair, err)
		}
		appID, err := uuid.Parse(strings.TrimSpace(app))
		if err != nil {
			return nil, fmt.Errorf("tenant %q: application: %w", pair, err)
		}
		out = append(out, Tenant{OrganizationID: orgID, ApplicationID: appID})
	}
	return out, nil
}

// ImportConfig tunes the import pipeline.
type ImportConfig struct {
	// Workers is the write parallelism of one pass (default: 8)
	Workers int `env:"IMPORT_WORKERS" default:"8"`

	// MaxConcurrentFiles caps files importing at once in this process (default: 4)
	MaxConcurrentFiles int `env:"IMPORT_MAX_CONCURRENT_FILES" default:"4"`

	// MaxWaitTime is how long a file waits for a slot before logging and
	// waiting again (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// HeartbeatEvery is the number of processed events between heartbeats (default: 50)
	HeartbeatEvery int `env:"IMPORT_HEARTBEAT_EVERY" default:"50"`

	// FailureSample is how many failure messages a file keeps (default: 20)
	FailureSample int `env:"IMPORT_FAILURE_SAMPLE" default:"20"`

	// FileSuffix selects export files in a bucket (default: .json)
	FileSuffix string `env:"IMPORT_FILE_SUFFIX" default:".json"`

	// DownloadDir holds fetched S3 objects; empty means the OS temp dir
	DownloadDir string `env:"IMPORT_DOWNLOAD_DIR"`

	// ResolveTargetByID looks connection targets up by their own id instead
	// of the owner's (default: false)
	ResolveTargetByID bool `env:"IMPORT_RESOLVE_TARGET_BY_ID" default:"false"`

	// LeaseTimeout is how long a file may go without a heartbeat before the
	// recovery sweep reschedules it (default: 10m)
	LeaseTimeout time.Duration `env:"IMPORT_LEASE_TIMEOUT" default:"10m"`

	// RecoveryInterval is how often the sweep runs (default: 1m)
	RecoveryInterval time.Duration `env:"IMPORT_RECOVERY_INTERVAL" default:"1m"`
}

// OriginConfig holds defaults for jobs whose storage info names no endpoint
// or region.
type OriginConfig struct {
	// Endpoint is an S3 endpoint or a file:// directory
	Endpoint string `env:"ORIGIN_ENDPOINT" default:"s3.amazonaws.com"`
	Region   string `env:"ORIGIN_REGION" default:"us-east-1"`
	UseSSL   bool   `env:"ORIGIN_USE_SSL" default:"true"`
}

// SupervisorConfig selects Temporal as the job supervisor when Address is set.
type SupervisorConfig struct {
	Address          string        `env:"TEMPORAL_ADDRESS"`
	Namespace        string        `env:"TEMPORAL_NAMESPACE" default:"default"`
	TaskQueue        string        `env:"TEMPORAL_TASK_QUEUE" default:"snapshot-import"`
	HeartbeatTimeout time.Duration `env:"TEMPORAL_HEARTBEAT_TIMEOUT" default:"2m"`
	FileTimeout      time.Duration `env:"TEMPORAL_FILE_TIMEOUT" default:"6h"`
	MaxAttempts      int           `env:"TEMPORAL_MAX_ATTEMPTS" default:"5"`
}

// Temporal reports whether jobs run under Temporal.
func (c SupervisorConfig) Temporal() bool {
	return c.Address != ""
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File additionally receives JSON logs when set
	File string `env:"LOG_FILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
