package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
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

// Validate checks that the configuration is valid and reports every
// problem at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.Store.Backend) {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			fail("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
		if c.Database.MaxConns <= 0 {
			fail("DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			fail("DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			fail("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	default:
		fail("STORE_BACKEND (%q) must be one of: memory, postgres", c.Store.Backend)
	}
	if _, err := c.Store.ParseTenants(); err != nil {
		fail("STORE_TENANTS: %v", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		fail("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		fail("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Import.Workers <= 0 {
		fail("IMPORT_WORKERS must be positive")
	}
	if c.Import.MaxConcurrentFiles <= 0 {
		fail("IMPORT_MAX_CONCURRENT_FILES must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		fail("IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.HeartbeatEvery <= 0 {
		fail("IMPORT_HEARTBEAT_EVERY must be positive")
	}
	if c.Import.FailureSample <= 0 {
		fail("IMPORT_FAILURE_SAMPLE must be positive")
	}
	if c.Import.LeaseTimeout <= 0 {
		fail("IMPORT_LEASE_TIMEOUT must be positive")
	}
	if c.Import.RecoveryInterval <= 0 {
		fail("IMPORT_RECOVERY_INTERVAL must be positive")
	}

	if c.Supervisor.Temporal() {
		if c.Supervisor.TaskQueue == "" {
			fail("TEMPORAL_TASK_QUEUE is required when TEMPORAL_ADDRESS is set")
		}
		if c.Supervisor.MaxAttempts <= 0 {
			fail("TEMPORAL_MAX_ATTEMPTS must be positive")
		}
		if c.Supervisor.HeartbeatTimeout <= 0 {
			fail("TEMPORAL_HEARTBEAT_TIMEOUT must be positive")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		fail("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		fail("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	return errs.ErrorOrNil()
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Store: %q, ", c.Store.Backend)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {Workers: %d, MaxConcurrentFiles: %d, HeartbeatEvery: %d, ResolveTargetByID: %v}, ",
		c.Import.Workers, c.Import.MaxConcurrentFiles, c.Import.HeartbeatEvery, c.Import.ResolveTargetByID)
	fmt.Fprintf(&b, "Origin: {Endpoint: %q, Region: %q}, ", c.Origin.Endpoint, c.Origin.Region)
	fmt.Fprintf(&b, "Supervisor: {Address: %q, TaskQueue: %q}, ", c.Supervisor.Address, c.Supervisor.TaskQueue)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
