// Package docker discovers hostnames from container labels over the
// Docker engine API. Containers opt in with trafego.* labels; the event
// stream feeds the scheduler so records follow container lifecycles
// without waiting for the next tick.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/client"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

const sourceName = "docker"

// engineAPI is the slice of the Docker client the source uses.
type engineAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// Config holds the docker source settings.
type Config struct {
	// Host is the engine address (unix socket or tcp URL). Empty uses
	// the SDK defaults (DOCKER_HOST, then the standard socket).
	Host string

	// LabelPrefix namespaces the discovery labels (default "trafego").
	LabelPrefix string

	// RecordType and Target are the defaults for containers whose
	// labels name only a hostname.
	RecordType record.Type
	Target     string

	// TTL default for published records. 0 means provider default.
	TTL int
}

// Docker implements source.Source over container labels.
type Docker struct {
	config Config
	api    engineAPI
	logger *slog.Logger
}

// Option is a functional option for configuring Docker.
type Option func(*Docker)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Docker) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithAPI replaces the engine client, mainly for tests.
func WithAPI(api engineAPI) Option {
	return func(d *Docker) {
		d.api = api
	}
}

// New creates a Docker source, connecting to the engine unless an API
// client is injected.
func New(cfg Config, opts ...Option) (*Docker, error) {
	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = "trafego"
	}
	d := &Docker{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.api == nil {
		clientOpts := []client.Opt{client.WithAPIVersionNegotiation()}
		if cfg.Host != "" {
			clientOpts = append(clientOpts, client.WithHost(cfg.Host))
		} else {
			clientOpts = append(clientOpts, client.FromEnv)
		}
		cli, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating docker client: %w", err)
		}
		d.api = cli
	}
	return d, nil
}

// Name returns the source identifier.
func (d *Docker) Name() string {
	return sourceName
}

// Snapshot lists running containers and converts their labels into
// desired records. Stopped containers drop out of the snapshot, which
// starts the orphan clock for their records.
func (d *Docker) Snapshot(ctx context.Context) ([]source.DesiredRecord, error) {
	containers, err := d.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	var out []source.DesiredRecord
	for _, c := range containers {
		recs, err := d.parseLabels(containerName(c), c.Labels)
		if err != nil {
			d.logger.Warn("skipping container with bad labels",
				slog.String("container", containerName(c)),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, recs...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})

	d.logger.Debug("docker snapshot",
		slog.Int("containers", len(containers)),
		slog.Int("records", len(out)),
	)
	return out, nil
}

func containerName(c container.Summary) string {
	if len(c.Names) > 0 {
		// The engine reports names with a leading slash.
		name := c.Names[0]
		if len(name) > 0 && name[0] == '/' {
			return name[1:]
		}
		return name
	}
	if len(c.ID) >= 12 {
		return c.ID[:12]
	}
	return c.ID
}

var _ source.Source = (*Docker)(nil)
