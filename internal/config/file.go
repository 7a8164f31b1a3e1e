package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML file shape. It mirrors the runtime Config but
// uses TOML-friendly types: durations as strings, booleans as pointers
// so unset stays distinguishable from false.
type fileConfig struct {
	Logging    *fileLoggingConfig    `toml:"logging"`
	Database   *fileDatabaseConfig   `toml:"database"`
	Reconciler *fileReconcilerConfig `toml:"reconciler"`
	Server     *fileServerConfig     `toml:"server"`
	Providers  []fileProviderConfig  `toml:"providers"`
	Sources    []fileSourceConfig    `toml:"sources"`
}

type fileLoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, text
}

type fileDatabaseConfig struct {
	Path string `toml:"path"`
}

type fileReconcilerConfig struct {
	CacheTTL     string `toml:"cache_ttl"`     // Go duration format
	GraceWindow  string `toml:"grace_window"`  // delay before orphan deletion
	Concurrency  int    `toml:"concurrency"`   // parallel provider operations
	TickInterval string `toml:"tick_interval"` // periodic reconcile interval
	Debounce     string `toml:"debounce"`      // trigger coalescing window
}

type fileServerConfig struct {
	HealthPort int `toml:"health_port"`
	AdminPort  int `toml:"admin_port"`
}

type fileProviderConfig struct {
	ID             string            `toml:"id"`
	Name           string            `toml:"name"`
	Type           string            `toml:"type"` // cloudflare, digitalocean, route53, rfc2136
	Enabled        *bool             `toml:"enabled"`
	Default        bool              `toml:"default"`
	BaseDomain     string            `toml:"base_domain"`
	Zone           string            `toml:"zone"`
	DefaultTTL     int               `toml:"default_ttl"`
	DefaultProxied bool              `toml:"default_proxied"`
	RateLimit      int               `toml:"rate_limit"` // API calls per second, 0 = unlimited
	Credentials    map[string]string `toml:"credentials"`
}

type fileSourceConfig struct {
	Name string `toml:"name"` // traefik, docker

	// What to publish for each discovered hostname.
	RecordType string `toml:"record_type"` // A, AAAA, CNAME
	Target     string `toml:"target"`      // IP or hostname

	// Traefik settings
	APIURL       string   `toml:"api_url"`
	PollInterval string   `toml:"poll_interval"`
	FilePaths    []string `toml:"file_paths"`
	FilePattern  string   `toml:"file_pattern"`
	DefaultTTL   int      `toml:"default_ttl"`

	// Docker settings
	Host        string `toml:"host"`
	LabelPrefix string `toml:"label_prefix"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnvVars replaces ${VAR} patterns with environment variable
// values, supporting ${VAR:-default} for fallbacks.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

func loadFile(path string) (*fileConfig, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// apply folds the file values into cfg, collecting conversion errors.
func (fc *fileConfig) apply(cfg *Config) []string {
	var errs []string

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.LogLevel = strings.ToLower(interpolateEnvVars(fc.Logging.Level))
		}
		if fc.Logging.Format != "" {
			cfg.LogFormat = strings.ToLower(interpolateEnvVars(fc.Logging.Format))
		}
	}

	if fc.Database != nil && fc.Database.Path != "" {
		cfg.DatabasePath = interpolateEnvVars(fc.Database.Path)
	}

	if fc.Reconciler != nil {
		errs = append(errs, applyDuration(&cfg.CacheTTL, "reconciler.cache_ttl", fc.Reconciler.CacheTTL)...)
		errs = append(errs, applyDuration(&cfg.GraceWindow, "reconciler.grace_window", fc.Reconciler.GraceWindow)...)
		errs = append(errs, applyDuration(&cfg.TickInterval, "reconciler.tick_interval", fc.Reconciler.TickInterval)...)
		errs = append(errs, applyDuration(&cfg.Debounce, "reconciler.debounce", fc.Reconciler.Debounce)...)
		if fc.Reconciler.Concurrency > 0 {
			cfg.Concurrency = fc.Reconciler.Concurrency
		}
	}

	if fc.Server != nil {
		if fc.Server.HealthPort > 0 {
			cfg.HealthPort = fc.Server.HealthPort
		}
		if fc.Server.AdminPort > 0 {
			cfg.AdminPort = fc.Server.AdminPort
		}
	}

	for _, fp := range fc.Providers {
		p, pErrs := convertFileProvider(fp)
		cfg.Providers = append(cfg.Providers, p)
		errs = append(errs, pErrs...)
	}

	for _, fs := range fc.Sources {
		s, sErrs := convertFileSource(fs)
		cfg.Sources = append(cfg.Sources, s)
		errs = append(errs, sErrs...)
	}

	return errs
}

func applyDuration(dst *time.Duration, field, raw string) []string {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(interpolateEnvVars(raw))
	if err != nil {
		return []string{fmt.Sprintf("%s: invalid duration %q", field, raw)}
	}
	if d <= 0 {
		return []string{fmt.Sprintf("%s: must be positive, got %q", field, raw)}
	}
	*dst = d
	return nil
}

func convertFileProvider(fp fileProviderConfig) (ProviderConfig, []string) {
	var errs []string

	p := ProviderConfig{
		ID:             interpolateEnvVars(fp.ID),
		Name:           interpolateEnvVars(fp.Name),
		Type:           strings.ToLower(fp.Type),
		Enabled:        true,
		Default:        fp.Default,
		BaseDomain:     strings.ToLower(interpolateEnvVars(fp.BaseDomain)),
		Zone:           strings.ToLower(interpolateEnvVars(fp.Zone)),
		DefaultTTL:     fp.DefaultTTL,
		DefaultProxied: fp.DefaultProxied,
		RateLimit:      fp.RateLimit,
		Credentials:    make(map[string]string, len(fp.Credentials)),
	}
	if fp.Enabled != nil {
		p.Enabled = *fp.Enabled
	}
	for k, v := range fp.Credentials {
		p.Credentials[strings.ToLower(k)] = interpolateEnvVars(v)
	}

	if p.ID == "" {
		errs = append(errs, "provider: id is required")
	}
	if p.Type == "" {
		errs = append(errs, fmt.Sprintf("provider %s: type is required", p.ID))
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return p, errs
}

func convertFileSource(fs fileSourceConfig) (SourceConfig, []string) {
	var errs []string

	s := SourceConfig{
		Name:        strings.ToLower(fs.Name),
		RecordType:  strings.ToUpper(fs.RecordType),
		Target:      interpolateEnvVars(fs.Target),
		APIURL:      interpolateEnvVars(fs.APIURL),
		FilePaths:   fs.FilePaths,
		FilePattern: fs.FilePattern,
		DefaultTTL:  fs.DefaultTTL,
		Host:        interpolateEnvVars(fs.Host),
		LabelPrefix: fs.LabelPrefix,
	}

	if s.Name == "" {
		errs = append(errs, "source: name is required")
	}
	if fs.PollInterval != "" {
		d, err := time.ParseDuration(fs.PollInterval)
		if err != nil || d < time.Second {
			errs = append(errs, fmt.Sprintf("source %s: invalid poll_interval %q", s.Name, fs.PollInterval))
		} else {
			s.PollInterval = d
		}
	}
	return s, errs
}
