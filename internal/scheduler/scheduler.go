// Package scheduler drives per-provider reconciliation: periodic ticks,
// debounced external triggers, pause/resume, and forced resyncs. It is
// the only long-lived root object; every worker goroutine it owns stops
// when its context is cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/reconciler"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

// ErrReconcileInFlight is returned when a cycle for the provider is
// already running. The request is coalesced into the running cycle.
var ErrReconcileInFlight = errors.New("reconciliation already in flight")

// Config holds scheduler tuning knobs.
type Config struct {
	// TickInterval is the default period between reconciliations.
	TickInterval time.Duration

	// ProviderTicks overrides the tick interval per provider id.
	ProviderTicks map[string]time.Duration

	// DebounceInterval coalesces external triggers arriving close
	// together into a single reconciliation.
	DebounceInterval time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     5 * time.Minute,
		DebounceInterval: 2 * time.Second,
	}
}

// providerState is the per-provider single-writer lock plus coalescing
// and pause flags.
type providerState struct {
	mu      sync.Mutex  // held for the duration of a cycle
	pending atomic.Bool // a request arrived while a cycle was running

	lastMu     sync.Mutex
	paused     bool
	lastResult *reconciler.Result
}

// Scheduler owns the reconciliation loops for every enabled provider.
type Scheduler struct {
	rec       *reconciler.Reconciler
	providers *provider.Registry
	agg       *source.Aggregator
	store     *store.Store
	config    Config
	logger    *slog.Logger

	mu       sync.Mutex
	states   map[string]*providerState
	running  bool
	cancel   context.CancelFunc
	debounce *time.Timer
	wg       sync.WaitGroup
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConfig sets the scheduler configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		if cfg.TickInterval > 0 {
			s.config.TickInterval = cfg.TickInterval
		}
		if cfg.DebounceInterval > 0 {
			s.config.DebounceInterval = cfg.DebounceInterval
		}
		if cfg.ProviderTicks != nil {
			s.config.ProviderTicks = cfg.ProviderTicks
		}
	}
}

// New creates a Scheduler.
func New(rec *reconciler.Reconciler, providers *provider.Registry, agg *source.Aggregator, st *store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		rec:       rec,
		providers: providers,
		agg:       agg,
		store:     st,
		config:    DefaultConfig(),
		logger:    slog.Default(),
		states:    make(map[string]*providerState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) state(providerID string) *providerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[providerID]
	if !ok {
		st = &providerState{}
		s.states[providerID] = st
	}
	return st
}

// Start launches one tick loop per enabled provider. Non-blocking; call
// Stop (or cancel the context) to halt.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	for _, inst := range s.providers.All() {
		if !s.providers.Enabled(inst.ID()) {
			continue
		}
		id := inst.ID()
		interval := s.config.TickInterval
		if d, ok := s.config.ProviderTicks[id]; ok && d > 0 {
			interval = d
		}
		s.wg.Add(1)
		go s.tickLoop(ctx, id, interval)
	}

	s.logger.Info("scheduler started",
		slog.Int("providers", len(s.providers.All())),
		slog.Duration("tick", s.config.TickInterval),
	)
	return nil
}

// Stop cancels all loops and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context, providerID string, interval time.Duration) {
	defer s.wg.Done()

	// Reconcile once at startup, then on every tick.
	s.runCoalesced(ctx, providerID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCoalesced(ctx, providerID)
		}
	}
}

// Trigger signals that the desired state changed. Triggers within the
// debounce window collapse into one reconciliation of all providers.
func (s *Scheduler) Trigger(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.debounce != nil {
		s.debounce.Reset(s.config.DebounceInterval)
		return
	}
	s.debounce = time.AfterFunc(s.config.DebounceInterval, func() {
		// The running check and wg.Add happen under the same lock Stop
		// holds, so a fired timer cannot add workers after Stop started
		// waiting.
		s.mu.Lock()
		defer s.mu.Unlock()
		s.debounce = nil
		if !s.running {
			return
		}
		for _, inst := range s.providers.All() {
			if !s.providers.Enabled(inst.ID()) {
				continue
			}
			id := inst.ID()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runCoalesced(ctx, id)
			}()
		}
	})
}

// runCoalesced runs one cycle, folding requests that arrive while a
// cycle is in flight into a single follow-up run.
func (s *Scheduler) runCoalesced(ctx context.Context, providerID string) {
	st := s.state(providerID)

	if !st.mu.TryLock() {
		// A cycle is running; it will observe the flag and rerun with
		// the desired state accumulated since it started.
		st.pending.Store(true)
		return
	}
	defer st.mu.Unlock()

	for {
		st.pending.Store(false)

		if _, err := s.runCycle(ctx, providerID, reconciler.CycleOptions{}); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled reconcile failed",
				slog.String("provider", providerID),
				slog.String("error", err.Error()),
			)
		}

		if !st.pending.Load() || ctx.Err() != nil {
			return
		}
	}
}

// ReconcileNow forces one synchronous cycle. If a cycle is already in
// flight the request is coalesced and ErrReconcileInFlight returned.
func (s *Scheduler) ReconcileNow(ctx context.Context, providerID string) (*reconciler.Result, error) {
	st := s.state(providerID)
	if !st.mu.TryLock() {
		st.pending.Store(true)
		return nil, ErrReconcileInFlight
	}
	defer st.mu.Unlock()
	return s.runCycle(ctx, providerID, reconciler.CycleOptions{})
}

// DryRun builds a plan without side effects. It takes the single-writer
// lock so its cache refresh cannot interleave with a mutating cycle; if
// one is in flight ErrReconcileInFlight is returned without queueing a
// follow-up run.
func (s *Scheduler) DryRun(ctx context.Context, providerID string) (*reconciler.Result, error) {
	st := s.state(providerID)
	if !st.mu.TryLock() {
		return nil, ErrReconcileInFlight
	}
	defer st.mu.Unlock()
	return s.runCycle(ctx, providerID, reconciler.CycleOptions{DryRun: true})
}

// ForceResync re-applies every desired record regardless of fingerprint
// equality. Used after changing provider defaults.
func (s *Scheduler) ForceResync(ctx context.Context, providerID string) (*reconciler.Result, error) {
	st := s.state(providerID)
	if !st.mu.TryLock() {
		st.pending.Store(true)
		return nil, ErrReconcileInFlight
	}
	defer st.mu.Unlock()
	return s.runCycle(ctx, providerID, reconciler.CycleOptions{ForceResync: true})
}

// Pause stops mutating operations for a provider. Planning still runs;
// ticks produce dry-run plans retrievable via LastResult.
func (s *Scheduler) Pause(providerID string) {
	st := s.state(providerID)
	st.lastMu.Lock()
	defer st.lastMu.Unlock()
	st.paused = true
	s.logger.Info("provider paused", slog.String("provider", providerID))
}

// Resume re-enables mutating operations.
func (s *Scheduler) Resume(providerID string) {
	st := s.state(providerID)
	st.lastMu.Lock()
	defer st.lastMu.Unlock()
	st.paused = false
	s.logger.Info("provider resumed", slog.String("provider", providerID))
}

// Paused reports whether a provider is paused.
func (s *Scheduler) Paused(providerID string) bool {
	st := s.state(providerID)
	st.lastMu.Lock()
	defer st.lastMu.Unlock()
	return st.paused
}

// LastResult returns the most recent cycle result for a provider, or nil.
func (s *Scheduler) LastResult(providerID string) *reconciler.Result {
	st := s.state(providerID)
	st.lastMu.Lock()
	defer st.lastMu.Unlock()
	return st.lastResult
}

// runCycle aggregates the desired state, routes it to the provider, and
// runs one reconciliation.
func (s *Scheduler) runCycle(ctx context.Context, providerID string, opts reconciler.CycleOptions) (*reconciler.Result, error) {
	if s.Paused(providerID) {
		opts.DryRun = true
	}

	desired, err := s.desiredFor(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("gathering desired state: %w", err)
	}

	res, err := s.rec.Reconcile(ctx, providerID, desired, opts)
	if err != nil {
		return nil, err
	}

	st := s.state(providerID)
	st.lastMu.Lock()
	st.lastResult = res
	st.lastMu.Unlock()
	return res, nil
}

// desiredFor aggregates all sources and returns the records routed to
// one provider: explicit ProviderID first, base-domain matching second.
func (s *Scheduler) desiredFor(ctx context.Context, providerID string) ([]source.DesiredRecord, error) {
	overrides, err := s.loadOverrides(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.agg.Aggregate(ctx, overrides)
	if err != nil {
		return nil, err
	}

	var out []source.DesiredRecord
	for _, d := range res.Records {
		if d.ProviderID != "" {
			if d.ProviderID == providerID {
				out = append(out, d)
			}
			continue
		}
		inst, ok := s.providers.ForHostname(d.Name)
		if !ok {
			s.logger.Debug("no provider for hostname",
				slog.String("name", d.Name),
			)
			continue
		}
		if inst.ID() == providerID {
			out = append(out, d)
		}
	}
	return out, nil
}

// loadOverrides fetches enabled hostname overrides from storage in the
// aggregator's shape.
func (s *Scheduler) loadOverrides(ctx context.Context) (map[string]source.Override, error) {
	stored, err := s.store.Overrides(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]source.Override, len(stored))
	for host, o := range stored {
		out[host] = source.Override{
			RecordType: o.RecordType,
			Content:    o.Content,
			TTL:        o.TTL,
			Proxied:    o.Proxied,
			ProviderID: o.ProviderID,
		}
	}
	return out, nil
}
