package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// getEnv retrieves an environment variable value.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrFile retrieves a value from either a direct environment
// variable or a file path named by fileKey (Docker secrets pattern).
// The file takes precedence; its contents are whitespace-trimmed.
func getEnvOrFile(directKey, fileKey string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
		// Unreadable secret file falls through to the direct value.
	}
	return os.Getenv(directKey)
}

// parseBool parses a boolean string, returning defaultValue on failure.
// Accepts true/false, 1/0, yes/no, on/off (case-insensitive).
func parseBool(s string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// mergeEnv folds TRAFEGO_* overrides into cfg. The environment always
// wins over file values.
func mergeEnv(cfg *Config) []string {
	var errs []string

	if v := getEnv("TRAFEGO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("TRAFEGO_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := getEnv("TRAFEGO_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	errs = append(errs, envDuration(&cfg.CacheTTL, "TRAFEGO_CACHE_TTL")...)
	errs = append(errs, envDuration(&cfg.GraceWindow, "TRAFEGO_GRACE_WINDOW")...)
	errs = append(errs, envDuration(&cfg.TickInterval, "TRAFEGO_TICK_INTERVAL")...)
	errs = append(errs, envDuration(&cfg.Debounce, "TRAFEGO_DEBOUNCE")...)

	if v := getEnv("TRAFEGO_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Sprintf("TRAFEGO_CONCURRENCY: invalid value %q", v))
		} else {
			cfg.Concurrency = n
		}
	}

	errs = append(errs, envPort(&cfg.HealthPort, "TRAFEGO_HEALTH_PORT")...)
	errs = append(errs, envPort(&cfg.AdminPort, "TRAFEGO_ADMIN_PORT")...)

	return errs
}

func envDuration(dst *time.Duration, key string) []string {
	v := getEnv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return []string{fmt.Sprintf("%s: invalid duration %q (use format like 60s, 5m)", key, v)}
	}
	*dst = d
	return nil
}

func envPort(dst *int, key string) []string {
	v := getEnv(key)
	if v == "" {
		return nil
	}
	port, err := strconv.Atoi(v)
	if err != nil || port < 1 || port > 65535 {
		return []string{fmt.Sprintf("%s: invalid port %q", key, v)}
	}
	*dst = port
	return nil
}
