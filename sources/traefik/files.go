package traefik

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig is the slice of a Traefik dynamic-configuration file we
// read. Only http.routers.*.rule matters; middlewares, services, and
// TLS sections are ignored so they cannot produce false hostnames.
type fileConfig struct {
	HTTP *httpConfig `yaml:"http" toml:"http"`
}

type httpConfig struct {
	Routers map[string]*routerConfig `yaml:"routers" toml:"routers"`
}

type routerConfig struct {
	Rule string `yaml:"rule" toml:"rule"`
}

// discoverFromFiles scans the configured paths for dynamic-config files
// and extracts hostnames from router rules.
func (t *Traefik) discoverFromFiles(ctx context.Context) ([]hostnameExtraction, error) {
	patterns := strings.Split(t.config.FilePattern, ",")
	for i := range patterns {
		patterns[i] = strings.TrimSpace(patterns[i])
	}

	var files []string
	for _, path := range t.config.FilePaths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				t.logger.Warn("traefik config path does not exist",
					slog.String("path", path),
				)
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			found, err := findFilesInDir(path, patterns)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
		} else if matchesAnyPattern(filepath.Base(path), patterns) {
			files = append(files, path)
		}
	}

	var extractions []hostnameExtraction
	seen := make(map[string]struct{})
	for _, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		found, err := parseConfigFile(file)
		if err != nil {
			// One broken file must not hide hostnames from the others.
			t.logger.Warn("failed to parse traefik config file",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, e := range found {
			if _, exists := seen[e.Hostname]; !exists {
				seen[e.Hostname] = struct{}{}
				extractions = append(extractions, e)
			}
		}
	}
	return extractions, nil
}

func findFilesInDir(dir string, patterns []string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if matchesAnyPattern(d.Name(), patterns) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", dir, err)
	}
	return matches, nil
}

func matchesAnyPattern(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

// parseConfigFile parses one dynamic-config file, picking the decoder
// by extension. Unknown extensions are tried as YAML.
func parseConfigFile(path string) ([]hostnameExtraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var cfg fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	}

	if cfg.HTTP == nil || cfg.HTTP.Routers == nil {
		return nil, nil
	}

	var extractions []hostnameExtraction
	for routerName, router := range cfg.HTTP.Routers {
		if router == nil || router.Rule == "" {
			continue
		}
		for _, hostname := range extractHostsFromRule(router.Rule) {
			extractions = append(extractions, hostnameExtraction{
				Hostname: hostname,
				Router:   routerName,
			})
		}
	}
	return extractions, nil
}
