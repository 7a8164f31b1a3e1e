// trafego reconciles DNS records across providers from declarative
// sources: it watches Traefik routers and Docker container labels,
// computes the desired record set, and converges Cloudflare,
// DigitalOcean, Route 53, and RFC 2136 zones onto it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/admin"
	"gitlab.bluewillows.net/root/trafego/internal/config"
	"gitlab.bluewillows.net/root/trafego/internal/health"
	"gitlab.bluewillows.net/root/trafego/internal/metrics"
	"gitlab.bluewillows.net/root/trafego/internal/reconciler"
	"gitlab.bluewillows.net/root/trafego/internal/scheduler"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
	"gitlab.bluewillows.net/root/trafego/providers/cloudflare"
	"gitlab.bluewillows.net/root/trafego/providers/digitalocean"
	"gitlab.bluewillows.net/root/trafego/providers/rfc2136"
	"gitlab.bluewillows.net/root/trafego/providers/route53"
	"gitlab.bluewillows.net/root/trafego/sources/docker"
	"gitlab.bluewillows.net/root/trafego/sources/traefik"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-08-24"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// Sentinels distinguishing the documented exit codes.
var (
	errStoreOpen        = errors.New("opening state store")
	errNoUsableProvider = errors.New("no provider instance is usable")
)

// initTimeout bounds the startup credential check per provider.
const initTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(exitCode(err))
	}
}

// exitCode maps fatal errors onto the documented codes: 2 for invalid
// configuration, 3 for an unusable database, 4 when every enabled
// provider fails its credential check, 1 otherwise.
func exitCode(err error) int {
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		return 2
	case errors.Is(err, errStoreOpen):
		return 3
	case errors.Is(err, errNoUsableProvider):
		return 4
	}
	return 1
}

func run() error {
	configPath := flag.String("config", defaultConfigPath(), "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("trafego starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DatabasePath, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("%w: %v", errStoreOpen, err)
	}
	defer st.Close()

	providers := provider.NewRegistry(logger)
	registerProviderFactories(providers, logger)
	if err := createProviderInstances(ctx, providers, cfg, logger); err != nil {
		return err
	}

	sources := source.NewRegistry(logger)
	watchers, err := registerSources(sources, cfg, logger)
	if err != nil {
		return fmt.Errorf("registering sources: %w", err)
	}
	agg := source.NewAggregator(sources, source.WithLogger(logger))

	rec := reconciler.New(st, providers,
		reconciler.WithLogger(logger),
		reconciler.WithConfig(reconciler.Config{
			CacheTTL:    cfg.CacheTTL,
			GraceWindow: cfg.GraceWindow,
			Concurrency: cfg.Concurrency,
		}),
	)

	sched := scheduler.New(rec, providers, agg, st,
		scheduler.WithLogger(logger),
		scheduler.WithConfig(scheduler.Config{
			TickInterval:     cfg.TickInterval,
			DebounceInterval: cfg.Debounce,
		}),
	)

	healthServer := health.New(cfg.HealthPort, health.WithLogger(logger))
	healthServer.RegisterCheck("database", health.DatabaseCheck(st))
	healthServer.RegisterCheck("providers", health.ProvidersCheck(providers))
	healthServer.RegisterDegradeCheck("cycles", health.CyclesCheck(providers, sched))

	adminServer := admin.New(cfg.AdminPort, sched, st, providers, admin.WithLogger(logger))

	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}
	if err := adminServer.Start(); err != nil {
		return fmt.Errorf("starting admin server: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	for _, w := range watchers {
		w := w
		go w.Watch(ctx, func() { sched.Trigger(ctx) })
	}

	logger.Info("running initial reconciliation")
	sched.Trigger(ctx)

	logger.Info("trafego initialized, watching for changes",
		slog.Int("sources", sources.Count()),
		slog.Int("providers", len(providers.All())),
		slog.Int("health_port", cfg.HealthPort),
		slog.Int("admin_port", cfg.AdminPort),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown error", slog.String("error", err.Error()))
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("trafego shutdown complete")
	return nil
}

func defaultConfigPath() string {
	if path := os.Getenv("TRAFEGO_CONFIG"); path != "" {
		return path
	}
	return "trafego.toml"
}

func setupLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func registerProviderFactories(registry *provider.Registry, logger *slog.Logger) {
	registry.RegisterFactory("cloudflare", cloudflare.Factory(logger))
	registry.RegisterFactory("digitalocean", digitalocean.Factory(logger))
	registry.RegisterFactory("route53", route53.Factory(logger))
	registry.RegisterFactory("rfc2136", rfc2136.Factory(logger))
}

// createProviderInstances builds and credential-checks every configured
// provider. Providers that fail a permanent check (bad credentials,
// missing zone) are disabled so the rest keep reconciling; when every
// enabled provider is unusable the process aborts.
func createProviderInstances(ctx context.Context, registry *provider.Registry, cfg *config.Config, logger *slog.Logger) error {
	enabled, unusable := 0, 0
	for _, pc := range cfg.Providers {
		desc := pc.Descriptor()
		if err := registry.CreateInstance(desc); err != nil {
			if !desc.Enabled {
				logger.Warn("skipping disabled provider with bad configuration",
					slog.String("id", desc.ID), slog.String("error", err.Error()))
				continue
			}
			if isPermanent(err) {
				logger.Error("provider unusable",
					slog.String("id", desc.ID), slog.String("error", err.Error()))
				enabled++
				unusable++
				continue
			}
			return fmt.Errorf("creating provider %s: %w", desc.ID, err)
		}
		if !desc.Enabled {
			continue
		}
		enabled++

		initCtx, initCancel := context.WithTimeout(ctx, initTimeout)
		err := mustGet(registry, desc.ID).Init(initCtx)
		initCancel()
		switch {
		case err == nil:
		case isPermanent(err):
			logger.Error("provider failed credential check, disabling",
				slog.String("id", desc.ID), slog.String("error", err.Error()))
			registry.Disable(desc.ID)
			unusable++
		default:
			// Transient trouble (network, rate limit): keep the provider
			// enabled and let the first cycle retry.
			logger.Warn("provider init failed, will retry during reconciliation",
				slog.String("id", desc.ID), slog.String("error", err.Error()))
		}
	}
	if enabled > 0 && unusable == enabled {
		return fmt.Errorf("%w: all %d enabled providers failed their credential checks",
			errNoUsableProvider, enabled)
	}
	return nil
}

// isPermanent reports whether a provider error will not heal on retry.
func isPermanent(err error) bool {
	return provider.IsUnauthorized(err) || errors.Is(err, provider.ErrZoneNotFound)
}

func mustGet(registry *provider.Registry, id string) *provider.Instance {
	inst, ok := registry.Get(id)
	if !ok {
		panic("provider " + id + " vanished from registry")
	}
	return inst
}

// watcher is the event surface both sources expose.
type watcher interface {
	Watch(ctx context.Context, notify func())
}

func registerSources(registry *source.Registry, cfg *config.Config, logger *slog.Logger) ([]watcher, error) {
	var watchers []watcher
	for _, sc := range cfg.Sources {
		switch sc.Name {
		case "traefik":
			src := traefik.New(traefik.Config{
				APIURL:       sc.APIURL,
				FilePaths:    sc.FilePaths,
				FilePattern:  sc.FilePattern,
				PollInterval: sc.PollInterval,
				RecordType:   record.Type(sc.RecordType),
				Target:       sc.Target,
				TTL:          sc.DefaultTTL,
			}, traefik.WithLogger(logger))
			if err := registry.Register(src); err != nil {
				return nil, err
			}
			watchers = append(watchers, src)
		case "docker":
			src, err := docker.New(docker.Config{
				Host:        sc.Host,
				LabelPrefix: sc.LabelPrefix,
				RecordType:  record.Type(sc.RecordType),
				Target:      sc.Target,
				TTL:         sc.DefaultTTL,
			}, docker.WithLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("docker source: %w", err)
			}
			if err := registry.Register(src); err != nil {
				return nil, err
			}
			watchers = append(watchers, src)
		default:
			// config.Load validates source names; nothing to do here.
			logger.Warn("unknown source, skipping", slog.String("source", sc.Name))
		}
	}
	return watchers, nil
}
