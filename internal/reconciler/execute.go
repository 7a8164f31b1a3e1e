package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"gitlab.bluewillows.net/root/trafego/internal/metrics"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// execute applies the plan: deletes, then updates, then creates. Each
// category runs with bounded concurrency; a failed operation is recorded
// and the rest of the plan proceeds. The store is updated per successful
// operation so a crash mid-plan never desynchronizes the next run.
func (r *Reconciler) execute(ctx context.Context, inst *provider.Instance, plan *Plan, idx *indexes, res *Result) {
	providerID := inst.ID()

	for _, pr := range idx.imports {
		if err := r.store.Track(ctx, store.ManagedRecord{
			Record:     pr.Record,
			ProviderID: providerID,
			ExternalID: pr.ExternalID,
			Source:     store.SourceImported,
			Managed:    true,
		}); err != nil {
			res.Errors = appendErr(res.Errors, err)
			continue
		}
		res.Imported++
		r.logger.Info("re-imported marked record",
			slog.String("provider", providerID),
			slog.String("name", pr.Name),
			slog.String("type", string(pr.Type)),
		)
	}

	var mu sync.Mutex
	runCategory := func(ops []Operation, apply func(ctx context.Context, op *Operation) error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.config.Concurrency)
		for i := range ops {
			op := &ops[i]
			g.Go(func() error {
				err := apply(gctx, op)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					op.Status = StatusFailed
					op.Err = err
					res.Failed++
					res.Errors = appendErr(res.Errors, fmt.Errorf("%s %s %s: %w", op.Type, op.Record.Type, op.Record.Name, err))
					metrics.Operations.WithLabelValues(providerID, string(op.Type), "failed").Inc()
					metrics.ProviderErrors.WithLabelValues(providerID, provider.Classify(err).String()).Inc()
				case op.Status == StatusSkipped:
					res.Skipped++
					metrics.Operations.WithLabelValues(providerID, string(op.Type), "skipped").Inc()
				default:
					op.Status = StatusSuccess
					res.Succeeded++
					metrics.Operations.WithLabelValues(providerID, string(op.Type), "success").Inc()
				}
				// Operation failures never abort the group.
				return nil
			})
		}
		_ = g.Wait()
	}

	runCategory(plan.Deletes, func(ctx context.Context, op *Operation) error {
		return r.applyDelete(ctx, inst, op)
	})
	runCategory(plan.Updates, func(ctx context.Context, op *Operation) error {
		return r.applyUpdate(ctx, inst, op)
	})
	runCategory(plan.Creates, func(ctx context.Context, op *Operation) error {
		return r.applyCreate(ctx, inst, idx, op, res, &mu)
	})
}

// applyDelete sweeps one expired orphan. NotFound counts as success;
// transient errors leave the orphan in place for the next cycle.
func (r *Reconciler) applyDelete(ctx context.Context, inst *provider.Instance, op *Operation) error {
	providerID := inst.ID()

	err := inst.Adapter.DeleteRecord(ctx, op.ExternalID)
	if err != nil && !provider.IsNotFound(err) {
		return err
	}

	if err := r.store.Untrack(ctx, providerID, op.ExternalID); err != nil {
		return err
	}
	if err := r.store.DeleteCached(ctx, providerID, op.ExternalID); err != nil {
		return err
	}
	metrics.OrphansSwept.WithLabelValues(providerID).Inc()
	r.logger.Info("swept orphan",
		slog.String("provider", providerID),
		slog.String("name", op.Record.Name),
		slog.String("type", string(op.Record.Type)),
	)
	return nil
}

// applyUpdate replaces a managed record in place, following any
// provider-side external-id regeneration.
func (r *Reconciler) applyUpdate(ctx context.Context, inst *provider.Instance, op *Operation) error {
	providerID := inst.ID()

	pr, err := inst.Adapter.UpdateRecord(ctx, op.ExternalID, withMarker(inst.Adapter, op.Record))
	if err != nil {
		return err
	}

	if pr.ExternalID != op.ExternalID {
		// Some providers delete-and-recreate on edit; rebind the managed
		// row before upserting so the store never holds two rows for one
		// record.
		if err := r.store.SetExternalID(ctx, providerID, op.Record.Type, op.Record.Name, pr.ExternalID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := r.store.DeleteCached(ctx, providerID, op.ExternalID); err != nil {
			return err
		}
	}

	if err := r.store.Track(ctx, store.ManagedRecord{
		Record:     pr.Record,
		ProviderID: providerID,
		ExternalID: pr.ExternalID,
		Source:     store.SourceManaged,
		Managed:    true,
	}); err != nil {
		return err
	}
	return r.store.UpsertCached(ctx, pr)
}

// applyCreate adds a record, first re-checking the cached provider view
// so a pre-existing identical record is claimed instead of duplicated.
func (r *Reconciler) applyCreate(ctx context.Context, inst *provider.Instance, idx *indexes, op *Operation, res *Result, mu *sync.Mutex) error {
	providerID := inst.ID()
	key := op.Record.Key()

	// Conflict pre-check.
	for _, existing := range idx.cached[key] {
		if existing.Content == op.Record.Content {
			if err := r.store.Track(ctx, store.ManagedRecord{
				Record:     existing.Record,
				ProviderID: providerID,
				ExternalID: existing.ExternalID,
				Source:     store.SourceDiscovered,
				Managed:    true,
			}); err != nil {
				return err
			}
			mu.Lock()
			res.Claimed++
			mu.Unlock()
			op.Status = StatusSkipped
			op.Reason = "claimed existing record"
			op.ExternalID = existing.ExternalID
			return nil
		}
	}
	if len(idx.cached[key]) > 0 && !multiValueAllowed(inst.Adapter, op.Record.Type) {
		op.Status = StatusSkipped
		op.Reason = "conflict: record exists with different content"
		return nil
	}

	pr, err := inst.Adapter.CreateRecord(ctx, withMarker(inst.Adapter, op.Record))
	if err != nil {
		return err
	}
	op.ExternalID = pr.ExternalID

	// A managed row may already exist for this key if the record vanished
	// at the provider and was recreated; rebind it to the fresh id so the
	// store never accumulates a second row.
	if err := r.store.SetExternalID(ctx, providerID, op.Record.Type, op.Record.Name, pr.ExternalID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := r.store.Track(ctx, store.ManagedRecord{
		Record:     pr.Record,
		ProviderID: providerID,
		ExternalID: pr.ExternalID,
		Source:     store.SourceManaged,
		Managed:    true,
	}); err != nil {
		return err
	}
	return r.store.UpsertCached(ctx, pr)
}

// withMarker stamps the ownership marker into the comment field on
// providers that store comments, so the record can be re-adopted after a
// database loss.
func withMarker(a provider.Adapter, r record.Record) record.Record {
	if !a.Supports(provider.CapabilityComments) || r.HasOwnershipMarker() {
		return r
	}
	if r.Comment == "" {
		r.Comment = record.OwnershipMarker
	} else {
		r.Comment = r.Comment + " " + record.OwnershipMarker
	}
	return r
}

// multiValueAllowed reports whether a second record may share (type, name)
// at this provider.
func multiValueAllowed(a provider.Adapter, typ record.Type) bool {
	switch typ {
	case record.TypeA, record.TypeAAAA:
		return a.Supports(provider.CapabilityMultiValueA)
	case record.TypeTXT, record.TypeMX, record.TypeSRV, record.TypeNS, record.TypeCAA:
		return true
	default:
		return false
	}
}
