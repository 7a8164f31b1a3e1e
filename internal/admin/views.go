package admin

import (
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/reconciler"
	"gitlab.bluewillows.net/root/trafego/internal/store"
)

// opView is the JSON shape of a plan operation.
type opView struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	RecordType string `json:"record_type"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	TTL        int    `json:"ttl"`
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// resultView is the JSON shape of a cycle result.
type resultView struct {
	Provider  string `json:"provider"`
	PlanID    string `json:"plan_id,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
	Coalesced bool   `json:"coalesced,omitempty"`
	Error     string `json:"error,omitempty"`

	Desired    int `json:"desired"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	NoOps      int `json:"noops"`
	Imported   int `json:"imported"`
	Claimed    int `json:"claimed"`
	OrphansNew int `json:"orphans_marked"`

	DurationMS int64 `json:"duration_ms"`

	Operations []opView `json:"operations,omitempty"`
}

func newResultView(providerID string, res *reconciler.Result) resultView {
	v := resultView{
		Provider:   providerID,
		Desired:    res.Desired,
		Succeeded:  res.Succeeded,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
		NoOps:      res.NoOps,
		Imported:   res.Imported,
		Claimed:    res.Claimed,
		OrphansNew: res.OrphansMarked,
		DurationMS: res.Duration().Milliseconds(),
	}
	if res.Plan != nil {
		v.PlanID = res.Plan.ID
		v.DryRun = res.Plan.DryRun
		for _, op := range res.Plan.Operations() {
			ov := opView{
				Type:       string(op.Type),
				Status:     string(op.Status),
				RecordType: string(op.Record.Type),
				Name:       op.Record.Name,
				Content:    op.Record.Content,
				TTL:        op.Record.TTL,
				ExternalID: op.ExternalID,
				Reason:     op.Reason,
			}
			if op.Err != nil {
				ov.Error = op.Err.Error()
			}
			v.Operations = append(v.Operations, ov)
		}
	}
	return v
}

// managedView is the JSON shape of a managed record.
type managedView struct {
	Provider   string     `json:"provider"`
	ExternalID string     `json:"external_id"`
	RecordType string     `json:"record_type"`
	Name       string     `json:"name"`
	Content    string     `json:"content"`
	TTL        int        `json:"ttl"`
	Source     string     `json:"source"`
	Managed    bool       `json:"managed"`
	IsOrphaned bool       `json:"is_orphaned"`
	OrphanedAt *time.Time `json:"orphaned_at,omitempty"`
	TrackedAt  time.Time  `json:"tracked_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func managedViews(records []store.ManagedRecord) []managedView {
	out := make([]managedView, 0, len(records))
	for _, mr := range records {
		out = append(out, managedView{
			Provider:   mr.ProviderID,
			ExternalID: mr.ExternalID,
			RecordType: string(mr.Type),
			Name:       mr.Name,
			Content:    mr.Content,
			TTL:        mr.TTL,
			Source:     string(mr.Source),
			Managed:    mr.Managed,
			IsOrphaned: mr.IsOrphaned,
			OrphanedAt: mr.OrphanedAt,
			TrackedAt:  mr.TrackedAt,
			UpdatedAt:  mr.UpdatedAt,
		})
	}
	return out
}
