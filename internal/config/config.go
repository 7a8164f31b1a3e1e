// Package config handles loading and validation of trafego configuration.
//
// Configuration comes from a TOML file merged with TRAFEGO_* environment
// variables; the environment always wins. Secrets support the _FILE
// suffix pattern so Docker secrets work without leaking values into the
// environment.
package config

import (
	"fmt"
	"os"
	"time"
)

// Configuration defaults.
const (
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultDatabasePath = "trafego.db"
	DefaultCacheTTL     = 5 * time.Minute
	DefaultGraceWindow  = 24 * time.Hour
	DefaultConcurrency  = 4
	DefaultTickInterval = 5 * time.Minute
	DefaultDebounce     = 2 * time.Second
	DefaultHealthPort   = 8080
	DefaultAdminPort    = 8081
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// Persistence
	DatabasePath string

	// Reconciliation
	CacheTTL     time.Duration // provider cache freshness window
	GraceWindow  time.Duration // orphan retirement delay
	Concurrency  int           // bounded per-provider operation parallelism
	TickInterval time.Duration // periodic reconcile interval
	Debounce     time.Duration // trigger coalescing window

	// Servers
	HealthPort int
	AdminPort  int

	Providers []ProviderConfig
	Sources   []SourceConfig
}

// Load resolves the configuration: TOML file (when path is non-empty),
// then environment overrides, then validation. A returned error of type
// *ValidationError means the configuration is unusable and the process
// should exit with the configuration error code.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, &ValidationError{Errors: []string{
				fmt.Sprintf("config file %s: %v", path, err),
			}}
		}
		fileCfg, err := loadFile(path)
		if err != nil {
			return nil, &ValidationError{Errors: []string{
				fmt.Sprintf("config file %s: %v", path, err),
			}}
		}
		errs := fileCfg.apply(cfg)
		if len(errs) > 0 {
			return nil, &ValidationError{Errors: errs}
		}
	}

	if errs := mergeEnv(cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	resolveCredentials(cfg)

	if errs := validate(cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		DatabasePath: DefaultDatabasePath,
		CacheTTL:     DefaultCacheTTL,
		GraceWindow:  DefaultGraceWindow,
		Concurrency:  DefaultConcurrency,
		TickInterval: DefaultTickInterval,
		Debounce:     DefaultDebounce,
		HealthPort:   DefaultHealthPort,
		AdminPort:    DefaultAdminPort,
	}
}
