// Package traefik discovers hostnames from a Traefik reverse proxy:
// router rules polled from the Traefik API and dynamic-configuration
// files on disk. Every hostname found in a Host() matcher becomes a
// desired record pointing at the configured target.
package traefik

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

const sourceName = "traefik"

// Config holds the traefik source settings.
type Config struct {
	// APIURL is the Traefik API base (e.g. http://traefik:8080).
	// Empty disables API polling.
	APIURL string

	// FilePaths are dynamic-configuration files or directories to scan.
	// Empty disables file discovery.
	FilePaths []string

	// FilePattern is a comma-separated glob list for directory scans.
	FilePattern string

	// PollInterval drives the Watch loop.
	PollInterval time.Duration

	// RecordType and Target shape the published records.
	RecordType record.Type
	Target     string

	// TTL for published records. 0 means provider default.
	TTL int
}

// Traefik implements source.Source.
type Traefik struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// Option is a functional option for configuring Traefik.
type Option func(*Traefik)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Traefik) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for API polling.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Traefik) {
		if client != nil {
			t.client = client
		}
	}
}

// New creates a Traefik source.
func New(cfg Config, opts ...Option) *Traefik {
	t := &Traefik{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	if t.config.FilePattern == "" {
		t.config.FilePattern = "*.yml,*.yaml"
	}
	if t.config.PollInterval <= 0 {
		t.config.PollInterval = 30 * time.Second
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the source identifier.
func (t *Traefik) Name() string {
	return sourceName
}

// Snapshot gathers the current hostname set from every configured
// discovery mode. API and file results are merged; the first router to
// claim a hostname wins.
func (t *Traefik) Snapshot(ctx context.Context) ([]source.DesiredRecord, error) {
	seen := make(map[string]string) // hostname -> router

	if t.config.APIURL != "" {
		routers, err := t.fetchRouters(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range routers {
			for _, host := range extractHostsFromRule(r.Rule) {
				if _, ok := seen[host]; !ok {
					seen[host] = r.Name
				}
			}
		}
	}

	if len(t.config.FilePaths) > 0 {
		extractions, err := t.discoverFromFiles(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range extractions {
			if _, ok := seen[e.Hostname]; !ok {
				seen[e.Hostname] = e.Router
			}
		}
	}

	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	out := make([]source.DesiredRecord, 0, len(hosts))
	for _, host := range hosts {
		out = append(out, source.DesiredRecord{
			Record: record.Record{
				Type:    t.config.RecordType,
				Name:    host,
				Content: t.config.Target,
				TTL:     t.config.TTL,
			},
			SourceName: sourceName,
			Origin:     seen[host],
		})
	}

	t.logger.Debug("traefik snapshot",
		slog.Int("hostnames", len(out)),
	)
	return out, nil
}

var _ source.Source = (*Traefik)(nil)
