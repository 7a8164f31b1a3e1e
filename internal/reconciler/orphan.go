package reconciler

import (
	"context"
	"log/slog"
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/metrics"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

// orphanPass runs the two-phase retirement bookkeeping after a cycle:
// managed records whose key left the desired set are marked orphaned,
// and orphans whose key reappeared are unmarked. Actual deletion happens
// in a later cycle's sweep once the grace window expires.
func (r *Reconciler) orphanPass(ctx context.Context, providerID string, desired map[record.Key]source.DesiredRecord, res *Result) error {
	managed, err := r.store.ManagedRecords(ctx, providerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, mr := range managed {
		key := mr.Record.Key()
		_, wanted := desired[key]

		switch {
		case !wanted && !mr.IsOrphaned && mr.Managed:
			if err := r.store.MarkOrphaned(ctx, providerID, mr.ExternalID, now); err != nil {
				return err
			}
			res.OrphansMarked++
			metrics.OrphansMarked.WithLabelValues(providerID).Inc()
			r.logger.Info("marked orphan",
				slog.String("provider", providerID),
				slog.String("name", mr.Name),
				slog.String("type", string(mr.Type)),
				slog.Duration("grace", r.config.GraceWindow),
			)

		case wanted && mr.IsOrphaned:
			if err := r.store.UnmarkOrphaned(ctx, providerID, mr.ExternalID); err != nil {
				return err
			}
			res.OrphansUnmarked++
			r.logger.Info("orphan reappeared, unmarked",
				slog.String("provider", providerID),
				slog.String("name", mr.Name),
				slog.String("type", string(mr.Type)),
			)
		}
	}
	return nil
}
