// Package reconciler implements the core loop that compares desired DNS
// state against the cached provider view and the managed records store,
// plans the minimal set of changes, and applies them with bounded
// concurrency and per-operation failure isolation.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"gitlab.bluewillows.net/root/trafego/internal/metrics"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

// Config holds reconciler tuning knobs.
type Config struct {
	// CacheTTL is how long a provider cache snapshot stays fresh before
	// the refresh gate re-lists the zone.
	CacheTTL time.Duration

	// GraceWindow is how long an orphan survives before the sweep
	// deletes it at the provider.
	GraceWindow time.Duration

	// Concurrency caps in-flight operations against a single provider.
	Concurrency int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:    5 * time.Minute,
		GraceWindow: 24 * time.Hour,
		Concurrency: 4,
	}
}

// Reconciler drives per-provider reconciliation. It is safe for
// concurrent use across providers; the scheduler guarantees at most one
// cycle per provider is in flight.
type Reconciler struct {
	store     *store.Store
	providers *provider.Registry
	config    Config
	logger    *slog.Logger
}

// Option is a functional option for configuring the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConfig sets the reconciler configuration.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		if cfg.CacheTTL > 0 {
			r.config.CacheTTL = cfg.CacheTTL
		}
		if cfg.GraceWindow > 0 {
			r.config.GraceWindow = cfg.GraceWindow
		}
		if cfg.Concurrency > 0 {
			r.config.Concurrency = cfg.Concurrency
		}
	}
}

// New creates a Reconciler over the given store and provider registry.
func New(st *store.Store, providers *provider.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     st,
		providers: providers,
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CycleOptions adjust a single reconciliation cycle.
type CycleOptions struct {
	// DryRun builds and returns the plan without touching the provider
	// or mutating any stored state.
	DryRun bool

	// ForceResync skips the fingerprint equality check: every desired
	// record matched at the provider becomes an update. Used after
	// changing provider defaults.
	ForceResync bool
}

// Reconcile runs one cycle for a provider against the given desired set.
//
// The cycle refreshes the provider cache if stale, plans deletes (expired
// orphans), updates, and creates, executes them with bounded concurrency,
// and finishes with the orphan mark/unmark post-pass. Individual operation
// failures do not abort the cycle; they are collected in Result.Errors.
func (r *Reconciler) Reconcile(ctx context.Context, providerID string, desired []source.DesiredRecord, opts CycleOptions) (*Result, error) {
	inst, ok := r.providers.Get(providerID)
	if !ok {
		return nil, &CycleError{ProviderID: providerID, Err: fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)}
	}

	res := &Result{
		StartTime: time.Now().UTC(),
		Desired:   len(desired),
	}
	metrics.DesiredRecords.WithLabelValues(providerID).Set(float64(len(desired)))

	if err := r.refreshGate(ctx, inst); err != nil {
		metrics.ReconcileCycles.WithLabelValues(providerID, "error").Inc()
		return nil, &CycleError{ProviderID: providerID, Err: err}
	}

	plan, idx, err := r.buildPlan(ctx, inst, desired, opts)
	if err != nil {
		metrics.ReconcileCycles.WithLabelValues(providerID, "error").Inc()
		return nil, &CycleError{ProviderID: providerID, Err: err}
	}
	res.Plan = plan
	res.NoOps = idx.noops

	if opts.DryRun {
		res.EndTime = time.Now().UTC()
		res.Skipped = len(plan.Operations())
		metrics.ReconcileCycles.WithLabelValues(providerID, "skipped").Inc()
		r.logger.Info("dry-run plan built",
			slog.String("provider", providerID),
			slog.String("plan", plan.ID),
			slog.Int("deletes", len(plan.Deletes)),
			slog.Int("updates", len(plan.Updates)),
			slog.Int("creates", len(plan.Creates)),
		)
		return res, nil
	}

	r.execute(ctx, inst, plan, idx, res)

	if err := r.orphanPass(ctx, providerID, idx.desired, res); err != nil {
		r.logger.Error("orphan pass failed",
			slog.String("provider", providerID),
			slog.String("error", err.Error()),
		)
		res.Errors = appendErr(res.Errors, err)
	}

	res.EndTime = time.Now().UTC()
	metrics.ReconcileCycles.WithLabelValues(providerID, "success").Inc()
	metrics.ReconcileDuration.WithLabelValues(providerID).Observe(res.Duration().Seconds())

	r.logger.Info("reconcile cycle complete",
		slog.String("provider", providerID),
		slog.String("plan", plan.ID),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("noops", res.NoOps),
		slog.Int("orphans_marked", res.OrphansMarked),
		slog.Duration("elapsed", res.Duration()),
	)
	return res, nil
}

// refreshGate re-lists the zone when the cached view is stale. A failure
// here aborts the cycle before any state is mutated.
func (r *Reconciler) refreshGate(ctx context.Context, inst *provider.Instance) error {
	providerID := inst.ID()

	need, err := r.store.NeedsRefresh(ctx, providerID, r.config.CacheTTL)
	if err != nil {
		return err
	}
	if !need {
		return nil
	}

	recs, err := inst.Adapter.ListRecords(ctx, nil)
	if err != nil {
		metrics.CacheRefreshes.WithLabelValues(providerID, "error").Inc()
		metrics.ProviderErrors.WithLabelValues(providerID, provider.Classify(err).String()).Inc()
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	if err := r.store.Refresh(ctx, providerID, recs); err != nil {
		metrics.CacheRefreshes.WithLabelValues(providerID, "error").Inc()
		return err
	}
	metrics.CacheRefreshes.WithLabelValues(providerID, "success").Inc()
	return nil
}

// indexes are the three views the classifier walks: desired, provider
// cache, and managed (live rows only).
type indexes struct {
	desired map[record.Key]source.DesiredRecord
	cached  map[record.Key][]record.ProviderRecord
	managed map[record.Key]store.ManagedRecord
	orphans map[record.Key]store.ManagedRecord

	// imports are discovered provider records carrying the ownership
	// marker, re-adopted during execution (self-healing after DB loss).
	imports []record.ProviderRecord

	// noops counts managed records already in their desired state.
	noops int
}

// buildPlan indexes the three state views and classifies every key into
// plan operations.
func (r *Reconciler) buildPlan(ctx context.Context, inst *provider.Instance, desired []source.DesiredRecord, opts CycleOptions) (*Plan, *indexes, error) {
	providerID := inst.ID()
	plan := newPlan(providerID, opts.DryRun)

	idx := &indexes{
		desired: make(map[record.Key]source.DesiredRecord, len(desired)),
		cached:  make(map[record.Key][]record.ProviderRecord),
		managed: make(map[record.Key]store.ManagedRecord),
		orphans: make(map[record.Key]store.ManagedRecord),
	}

	for _, d := range desired {
		key := d.Record.Key()
		if _, dup := idx.desired[key]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate desired key %s", ErrInvalidDesiredState, key)
		}
		idx.desired[key] = d
	}

	cached, err := r.store.CachedRecords(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	for _, pr := range cached {
		key := pr.Record.Key()
		idx.cached[key] = append(idx.cached[key], pr)
	}

	managed, err := r.store.ManagedRecords(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	trackedIDs := make(map[string]struct{}, len(managed))
	for _, mr := range managed {
		trackedIDs[mr.ExternalID] = struct{}{}
		if !mr.Managed {
			// Released: the user took the record back. Treat it like any
			// other discovered record, and never sweep it as an orphan.
			continue
		}
		key := mr.Record.Key()
		if mr.IsOrphaned {
			idx.orphans[key] = mr
			continue
		}
		idx.managed[key] = mr
	}

	// Untracked provider records carrying the ownership marker were ours
	// before a database loss; re-adopt them.
	for _, pr := range cached {
		if _, tracked := trackedIDs[pr.ExternalID]; tracked {
			continue
		}
		if pr.Record.HasOwnershipMarker() {
			idx.imports = append(idx.imports, pr)
			// Fold into the managed view so the rest of this cycle plans
			// against the re-adopted record.
			key := pr.Record.Key()
			if _, taken := idx.managed[key]; !taken {
				idx.managed[key] = store.ManagedRecord{
					Record:     pr.Record,
					ProviderID: providerID,
					ExternalID: pr.ExternalID,
					Source:     store.SourceImported,
					Managed:    true,
				}
			}
		}
	}

	// Expired orphans from previous cycles become this cycle's deletes,
	// unless their hostname came back.
	now := time.Now().UTC()
	for key, mr := range idx.orphans {
		if _, back := idx.desired[key]; back {
			continue
		}
		if mr.OrphanedAt == nil || now.Sub(*mr.OrphanedAt) < r.config.GraceWindow {
			continue
		}
		plan.Deletes = append(plan.Deletes, Operation{
			Type:       OpDelete,
			Status:     StatusPending,
			Record:     mr.Record,
			ExternalID: mr.ExternalID,
		})
	}

	for key, d := range idx.desired {
		pRows := idx.cached[key]
		mr, inM := idx.managed[key]

		if len(pRows) == 0 {
			// Not at the provider. Either a plain create, or a managed
			// record that vanished externally and must be recreated.
			plan.Creates = append(plan.Creates, Operation{
				Type:   OpCreate,
				Status: StatusPending,
				Record: d.Record,
			})
			continue
		}

		if !inM {
			// Discovered: present at the provider but not ours. Never
			// touched; the user owns it.
			continue
		}

		row := pickManagedRow(pRows, mr.ExternalID)
		if !opts.ForceResync && record.Fingerprint(d.Record) == record.Fingerprint(row.Record) {
			idx.noops++
			continue
		}
		plan.Updates = append(plan.Updates, Operation{
			Type:       OpUpdate,
			Status:     StatusPending,
			Record:     d.Record,
			ExternalID: row.ExternalID,
		})
	}

	sortOps(plan.Deletes)
	sortOps(plan.Updates)
	sortOps(plan.Creates)
	return plan, idx, nil
}

// pickManagedRow selects the cached row a managed record points at,
// falling back to the first row when ids diverged.
func pickManagedRow(rows []record.ProviderRecord, externalID string) record.ProviderRecord {
	for _, pr := range rows {
		if pr.ExternalID == externalID {
			return pr
		}
	}
	return rows[0]
}

func appendErr(agg, err error) error {
	if err == nil {
		return agg
	}
	return multierror.Append(agg, err)
}
