package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError aggregates every configuration problem found in one
// pass, so operators fix them all at once instead of one per restart.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// validate performs cross-field validation on the merged configuration.
func validate(cfg *Config) []string {
	var errs []string

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level: invalid value %q (must be debug, info, warn, or error)", cfg.LogLevel))
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log format: invalid value %q (must be json or text)", cfg.LogFormat))
	}

	if cfg.HealthPort == cfg.AdminPort {
		errs = append(errs, fmt.Sprintf("health and admin servers cannot share port %d", cfg.HealthPort))
	}

	seen := make(map[string]bool)
	defaults := 0
	for _, p := range cfg.Providers {
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("duplicate provider id: %q", p.ID))
		}
		seen[p.ID] = true

		if !knownType(p.Type) {
			errs = append(errs, fmt.Sprintf("provider %s: unknown type %q (known types: %s)",
				p.ID, p.Type, strings.Join(KnownProviderTypes, ", ")))
		}
		if p.Default {
			defaults++
		}
		if p.BaseDomain == "" && !p.Default {
			errs = append(errs, fmt.Sprintf("provider %s: base_domain is required unless default is set", p.ID))
		}
		if p.DefaultTTL < 0 {
			errs = append(errs, fmt.Sprintf("provider %s: default_ttl cannot be negative", p.ID))
		}
	}
	if defaults > 1 {
		errs = append(errs, "at most one provider may be marked default")
	}

	seenSources := make(map[string]bool)
	for _, s := range cfg.Sources {
		if !knownSource(s.Name) {
			errs = append(errs, fmt.Sprintf("source: unknown name %q (known sources: %s)",
				s.Name, strings.Join(KnownSourceNames, ", ")))
			continue
		}
		if seenSources[s.Name] {
			errs = append(errs, fmt.Sprintf("duplicate source: %q", s.Name))
		}
		seenSources[s.Name] = true

		if s.Name == "traefik" && s.APIURL == "" && len(s.FilePaths) == 0 {
			errs = append(errs, "source traefik: api_url or file_paths is required")
		}
		if s.Name == "traefik" && s.Target == "" {
			errs = append(errs, "source traefik: target is required")
		}
		errs = append(errs, validateSourceTarget(s)...)
	}

	for i := range cfg.Sources {
		cfg.Sources[i] = withSourceDefaults(cfg.Sources[i])
	}

	return errs
}

// validateSourceTarget ensures the target is appropriate for the
// record type.
func validateSourceTarget(s SourceConfig) []string {
	if s.Target == "" {
		return nil
	}
	var errs []string
	ip := net.ParseIP(s.Target)
	switch s.RecordType {
	case "", "A":
		if s.RecordType == "A" && (ip == nil || ip.To4() == nil) {
			errs = append(errs, fmt.Sprintf("source %s: A records must point to an IPv4 address, got %q", s.Name, s.Target))
		}
	case "AAAA":
		if ip == nil || ip.To4() != nil {
			errs = append(errs, fmt.Sprintf("source %s: AAAA records must point to an IPv6 address, got %q", s.Name, s.Target))
		}
	case "CNAME":
		if ip != nil {
			errs = append(errs, fmt.Sprintf("source %s: CNAME records cannot point to IP addresses, got %q", s.Name, s.Target))
		}
	default:
		errs = append(errs, fmt.Sprintf("source %s: invalid record_type %q", s.Name, s.RecordType))
	}
	return errs
}

func knownType(t string) bool {
	for _, k := range KnownProviderTypes {
		if t == k {
			return true
		}
	}
	return false
}

func knownSource(n string) bool {
	for _, k := range KnownSourceNames {
		if n == k {
			return true
		}
	}
	return false
}
